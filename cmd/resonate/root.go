package main

import (
	"strings"

	"github.com/spf13/cobra"

	"resonate/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var apiFlag string
	var tokenFlag string

	ctx := &commandContext{
		configPath: &configFlag,
		apiBase:    &apiFlag,
		apiToken:   &tokenFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "resonate",
		Short:         "Resonate voice conversion CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Daemon API token (overrides config)")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newTaskCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// commandContext carries the shared flags and the lazily loaded config.
type commandContext struct {
	configPath *string
	apiBase    *string
	apiToken   *string

	cfg *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(strings.TrimSpace(*c.configPath))
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// client builds the daemon API client from flags and config. Flags win so
// an operator can point at a remote daemon without editing config.
func (c *commandContext) client() (*apiClient, error) {
	base := strings.TrimSpace(*c.apiBase)
	token := strings.TrimSpace(*c.apiToken)
	if base == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if base == "" {
			base = "http://" + cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return newAPIClient(base, token), nil
}
