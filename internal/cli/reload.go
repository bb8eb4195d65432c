package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

func newReloadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running instance to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.config)
			if err != nil {
				return err
			}
			pid, err := readPIDFile(pidPath(cfg))
			if err != nil {
				return err
			}
			p, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := p.Signal(syscall.SIGHUP); err != nil {
				return fmt.Errorf("signal %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reload sent to %d\n", pid)
			return nil
		},
	}
}
