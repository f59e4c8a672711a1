package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/msgcode/msgcode/internal/errs"
)

const maxReadBytes = 1 << 20 // 1 MiB per read_file call

// resolvePath canonicalizes a tool path and confines it to the workspace.
// Symlinks are resolved before the containment check so a link pointing
// outside cannot smuggle access.
func resolvePath(path, workspace string) (string, error) {
	if path == "" {
		return "", errs.New(errs.ToolArgInvalid, "path is required")
	}
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", errs.Wrap(errs.PathOutOfRoot, err)
	}
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return "", errs.Wrap(errs.PathOutOfRoot, err)
	}
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		// Target may not exist yet (write_file); canonicalize the parent.
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if parentErr != nil {
			real = absResolved
		} else {
			real = filepath.Join(parentReal, filepath.Base(absResolved))
		}
	}
	if !isPathInside(real, wsReal) {
		return "", errs.New(errs.PathOutOfRoot, "path %s escapes workspace", path).
			With("path", path)
	}
	return real, nil
}

func isPathInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func readFile(req Request) Response {
	path, _ := req.Params["path"].(string)
	resolved, err := resolvePath(path, req.Meta.WorkspacePath)
	if err != nil {
		return Fail(errs.Wrap(errs.ToolArgInvalid, err))
	}
	info, statErr := os.Stat(resolved)
	if statErr != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, statErr))
	}
	if info.IsDir() {
		return Fail(errs.New(errs.ToolArgInvalid, "%s is a directory", path))
	}
	if info.Size() > maxReadBytes {
		return Fail(errs.New(errs.ToolExecFailed, "%s is %d bytes, over the %d byte read limit",
			path, info.Size(), maxReadBytes))
	}
	data, readErr := os.ReadFile(resolved)
	if readErr != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, readErr))
	}
	return Succeed(&Data{Result: string(data)})
}

func writeFile(req Request) Response {
	path, _ := req.Params["path"].(string)
	content, ok := req.Params["content"].(string)
	if !ok {
		return Fail(errs.New(errs.ToolArgInvalid, "content must be a string"))
	}
	resolved, err := resolvePath(path, req.Meta.WorkspacePath)
	if err != nil {
		return Fail(errs.Wrap(errs.ToolArgInvalid, err))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}
	return Succeed(&Data{Result: map[string]any{"path": resolved, "bytes": len(content)}})
}

// editFile applies ordered {oldText, newText} patches. A patch whose oldText
// is absent or ambiguous is a structured error, never a silent no-op.
func editFile(req Request) Response {
	path, _ := req.Params["path"].(string)
	resolved, err := resolvePath(path, req.Meta.WorkspacePath)
	if err != nil {
		return Fail(errs.Wrap(errs.ToolArgInvalid, err))
	}
	rawEdits, ok := req.Params["edits"].([]any)
	if !ok || len(rawEdits) == 0 {
		return Fail(errs.New(errs.ToolArgInvalid, "edits must be a non-empty list"))
	}

	data, readErr := os.ReadFile(resolved)
	if readErr != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, readErr))
	}
	text := string(data)

	for i, raw := range rawEdits {
		edit, ok := raw.(map[string]any)
		if !ok {
			return Fail(errs.New(errs.ToolArgInvalid, "edit %d is not an object", i))
		}
		oldText, _ := edit["oldText"].(string)
		newText, _ := edit["newText"].(string)
		if oldText == "" {
			return Fail(errs.New(errs.ToolArgInvalid, "edit %d has empty oldText", i))
		}
		switch strings.Count(text, oldText) {
		case 0:
			return Fail(errs.New(errs.ToolExecFailed, "edit %d: text not found", i).
				With("reason", "not-found").With("index", i))
		case 1:
			text = strings.Replace(text, oldText, newText, 1)
		default:
			return Fail(errs.New(errs.ToolExecFailed, "edit %d: text matches more than once", i).
				With("reason", "ambiguous-match").With("index", i))
		}
	}
	if err := os.WriteFile(resolved, []byte(text), 0o644); err != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}
	return Succeed(&Data{Result: map[string]any{"path": resolved, "edits": len(rawEdits)}})
}
