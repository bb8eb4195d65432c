package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"replaycap/internal/app"
	"replaycap/internal/httpapi"
	"replaycap/pkg/logx"
)

func newAddMeetingCmd(g *globalFlags) *cobra.Command {
	var duration int
	cmd := &cobra.Command{
		Use:   "add-meeting <link>",
		Short: "Queue a playback link for recording",
		Long:  "Insert a pending capture for a presentation playback link. The scheduler picks it up once it is prepared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.config)
			if err != nil {
				return err
			}
			c, err := httpapi.NewCapture(args[0], duration)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Create(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "recording length in seconds")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}
