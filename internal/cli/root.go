// Package cli holds the replaycap command tree.
package cli

import (
	"github.com/spf13/cobra"

	"replaycap/internal/config"
)

// Version is set at build time with -ldflags "-X replaycap/internal/cli.Version=...".
var Version = "dev"

type globalFlags struct {
	config string
	env    string
}

func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "replaycap",
		Short:         "Record meeting playbacks in a headless browser",
		Long:          "replaycap polls a capture queue, replays each meeting in its own browser tab and stores the recording.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadDotEnv(g.env)
			return err
		},
	}
	root.Version = Version
	root.PersistentFlags().StringVar(&g.config, "config", "./config.json", "path to config file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&g.env, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newAddMeetingCmd(g))
	root.AddCommand(newReloadCmd(g))
	return root
}

// loadConfig reads the config file with environment overrides applied.
func loadConfig(path string) (*config.Config, error) {
	return config.NewConfigManager(path).Load()
}

func pidPath(cfg *config.Config) string {
	if cfg.PIDFile != "" {
		return cfg.PIDFile
	}
	return config.DefaultPIDFile
}
