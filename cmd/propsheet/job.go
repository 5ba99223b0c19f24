package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/jobs"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

var jobCmd = &cobra.Command{
	Use:     "job",
	Short:   "Follow background processes started by dialogs",
	GroupID: "dialogs",
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream a background process's output until it exits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := newPublisher()
		if err != nil {
			return err
		}
		defer pub.Close()

		p := jobs.NewPoller(jobs.Config{
			Source:      getBackend(),
			Publisher:   pub,
			Logger:      logger,
			Interval:    cfg.PollInterval,
			MaxInterval: cfg.PollMaxInterval,
			RetryDelay:  cfg.PollRetry,
			Timeout:     cfg.FetchTimeout,
		})

		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		code, err := p.Watch(cmd.Context(), args[0], func(u jobs.Update) {
			if jsonOutput {
				_ = printJSON(out, u)
				return
			}
			for _, line := range u.Stdout {
				fmt.Fprintln(out, line)
			}
			for _, line := range u.Stderr {
				fmt.Fprintln(errOut, ui.RenderError(line))
			}
		})
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("job %s exited with code %d", args[0], code)
		}
		if !jsonOutput {
			fmt.Fprintln(errOut, ui.RenderMuted(fmt.Sprintf("job %s finished", args[0])))
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobWatchCmd)
}
