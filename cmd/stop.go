package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msgcode/msgcode/internal/config"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running msgcode process",
		Run: func(cmd *cobra.Command, args []string) {
			if err := stopDaemon(); err != nil {
				fmt.Fprintf(os.Stderr, "msgcode: stop: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func allstopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allstop",
		Short: "Stop msgcode and kill every client tmux session",
		Run: func(cmd *cobra.Command, args []string) {
			failed := false
			if err := stopDaemon(); err != nil {
				fmt.Fprintf(os.Stderr, "msgcode: stop: %v\n", err)
				failed = true
			}
			if err := killClientSessions(); err != nil {
				fmt.Fprintf(os.Stderr, "msgcode: tmux: %v\n", err)
				failed = true
			}
			if failed {
				os.Exit(1)
			}
		},
	}
}

func stopDaemon() error {
	pidPath := filepath.Join(config.Dir(), "msgcode.pid")
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("no pid file at %s — is msgcode running?", pidPath)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("pid file is corrupt: %q", data)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("process %d is gone, removed stale pid file", pid)
	}
	fmt.Printf("sent SIGTERM to %d\n", pid)
	return nil
}

// killClientSessions tears down every tmux session the client pipeline
// created. Session names carry the msgcode- prefix.
func killClientSessions() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	out, err := exec.Command(cfg.TmuxBin, "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		// No server running means nothing to kill.
		return nil
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(name, "msgcode-") {
			continue
		}
		if err := exec.Command(cfg.TmuxBin, "kill-session", "-t", name).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "  %s: kill failed: %v\n", name, err)
			continue
		}
		fmt.Printf("  killed %s\n", name)
	}
	return sc.Err()
}
