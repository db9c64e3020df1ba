package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calbridge/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		redacted := *resolvedCfg
		redacted.OAuth.ClientSecret = redactSecret(redacted.OAuth.ClientSecret)
		redacted.Redis.Password = redactSecret(redacted.Redis.Password)
		redacted.Mail.Password = redactSecret(redacted.Mail.Password)

		return printJSON(os.Stdout, redacted)
	}

	return config.RenderEffective(resolvedCfg, resolvedPath, os.Stdout)
}

func redactSecret(v string) string {
	if v == "" {
		return ""
	}

	return "<redacted>"
}
