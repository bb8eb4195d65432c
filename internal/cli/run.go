package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"replaycap/internal/app"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Long:  "Start the capture scheduler and HTTP API. SIGHUP reloads the config; SIGINT or SIGTERM stops gracefully.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), g.config)
		},
	}
}

func runDaemon(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(cfgPath, app.Options{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	pid := pidPath(a.Config())
	if err := writePIDFile(pid); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	defer removePIDFile(pid)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	reason := app.StopAppStop
loop:
	for {
		select {
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReloading)
				rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
				if err := a.Reload(rctx); err != nil {
					fmt.Fprintln(os.Stderr, "reload:", err)
				}
				rcancel()
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
			case syscall.SIGINT:
				reason = app.StopSIGINT
				break loop
			case syscall.SIGTERM:
				reason = app.StopSIGTERM
				break loop
			}
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	return a.Stop(sctx, reason)
}
