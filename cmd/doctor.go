package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/msgcode/msgcode/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runDoctor())
		},
	}
}

func runDoctor() int {
	fmt.Println("msgcode doctor")
	fmt.Printf("  Version:    %s\n", Version)
	fmt.Printf("  OS:         %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:         %s\n", runtime.Version())
	fmt.Println()

	hardFail := false

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:     %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply, run: msgcode init)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return exitBadConfig
	}

	fmt.Printf("  Owner:      %s", cfg.Owner)
	if cfg.Owner == "" {
		fmt.Println(" (MISSING — set owner or MSGCODE_OWNER)")
		hardFail = true
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Workspaces: %s", cfg.WorkspaceRoot)
	if st, err := os.Stat(cfg.WorkspaceRoot); err != nil {
		fmt.Println(" (NOT FOUND — created on first bind)")
	} else if !st.IsDir() {
		fmt.Println(" (NOT A DIRECTORY)")
		hardFail = true
	} else {
		fmt.Println(" (OK)")
	}

	checkBin := func(label, bin string, hard bool) {
		fmt.Printf("  %-11s %s", label+":", bin)
		if path, err := exec.LookPath(bin); err != nil {
			if hard {
				fmt.Println(" (NOT FOUND — required)")
				hardFail = true
			} else {
				fmt.Println(" (NOT FOUND — feature disabled)")
			}
		} else {
			fmt.Printf(" (OK, %s)\n", path)
		}
	}
	checkBin("Transport", cfg.TransportBin, true)
	checkBin("Desktopctl", cfg.DesktopctlBin, false)
	checkBin("Tmux", cfg.TmuxBin, false)

	logDir := filepath.Join(config.Dir(), "log")
	fmt.Printf("  Logs:       %s", logDir)
	probe := filepath.Join(logDir, ".wtest")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Println(" (NOT WRITABLE)")
		hardFail = true
	} else if err := os.WriteFile(probe, nil, 0o644); err != nil {
		fmt.Println(" (NOT WRITABLE)")
		hardFail = true
	} else {
		os.Remove(probe)
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Printf("  Provider:   %s", cfg.Provider.Name)
	if cfg.Provider.BaseURL != "" {
		fmt.Printf(" @ %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.Model != "" {
		fmt.Printf(" (model %s)", cfg.Provider.Model)
	}
	fmt.Println()
	if os.Getenv("MSGCODE_API_KEY") == "" {
		fmt.Println("  API key:    MSGCODE_API_KEY not set (fine for local providers)")
	} else {
		fmt.Println("  API key:    MSGCODE_API_KEY set")
	}
	if cfg.Embed.BaseURL == "" {
		fmt.Println("  Embedding:  not configured (memory recall is text-only)")
	} else {
		fmt.Printf("  Embedding:  %s (model %s)\n", cfg.Embed.BaseURL, cfg.Embed.Model)
	}

	if hardFail {
		fmt.Println()
		fmt.Println("  Result: NOT READY — fix the items marked required")
		return exitMissingDep
	}
	fmt.Println()
	fmt.Println("  Result: OK")
	return exitOK
}
