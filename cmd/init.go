package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/msgcode/msgcode/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runInit(); err != nil {
				fmt.Fprintf(os.Stderr, "msgcode: init: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func runInit() error {
	cfgPath := resolveConfigPath()
	cfg := config.Default()
	if existing, err := config.Load(cfgPath); err == nil {
		cfg = existing
	}

	ownerOnly := cfg.OwnerOnlyInGroup
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Owner identity").
				Description("Your iMessage handle — a phone number or Apple ID email. Only owners can issue commands.").
				Value(&cfg.Owner).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("an owner identity is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Workspace root").
				Description("All bound workspaces must live under this directory.").
				Value(&cfg.WorkspaceRoot),
			huh.NewConfirm().
				Title("Owner-only in group chats?").
				Description("Ignore messages from non-owners in group threads.").
				Value(&ownerOnly),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(huh.NewOptions("lmstudio", "openai", "ollama")...).
				Value(&cfg.Provider.Name),
			huh.NewInput().
				Title("Provider base URL").
				Description("OpenAI-compatible /v1 endpoint. Leave empty for the lmstudio default.").
				Value(&cfg.Provider.BaseURL),
			huh.NewInput().
				Title("Model").
				Value(&cfg.Provider.Model),
			huh.NewInput().
				Title("Embeddings base URL (optional)").
				Description("Empty disables vector recall; memory search degrades to full-text only.").
				Value(&cfg.Embed.BaseURL),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.OwnerOnlyInGroup = ownerOnly

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", cfgPath)
	if os.Getenv("MSGCODE_API_KEY") == "" {
		fmt.Println("Note: set MSGCODE_API_KEY in the environment if your provider needs one; it is never written to disk.")
	}
	fmt.Println("Run `msgcode doctor` to check preconditions, then `msgcode` to start.")
	return nil
}
