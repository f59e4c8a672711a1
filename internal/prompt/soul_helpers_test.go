package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

// writeSoulFiles seeds a workspace SOUL.md and a global soul named "butler"
// selected via active.json.
func writeSoulFiles(t *testing.T, ws, globalDir string) {
	t.Helper()
	wsDir := filepath.Join(ws, ".msgcode")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(wsDir, "SOUL.md"), []byte("workspace persona"), 0o644)
	os.WriteFile(filepath.Join(globalDir, "butler.md"), []byte("global persona"), 0o644)
	os.WriteFile(filepath.Join(globalDir, "active.json"), []byte(`{"active":"butler"}`), 0o644)
}
