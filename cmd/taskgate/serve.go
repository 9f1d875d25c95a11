package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/taskgate/internal/api"
	"github.com/kingrea/taskgate/internal/tui"
)

func (c *cli) newBoardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the interactive task board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			app := tui.NewApp(rt.handler, rt.tasks, tui.WithJournals(rt.journal))
			p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}

func (c *cli) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			settings := api.SettingsFromConfig(rt.cfg, c.v.GetString("addr"))
			srv := api.NewServer(settings, rt.handler,
				api.WithLogger(rt.logger),
				api.WithTasks(rt.tasks),
				api.WithFeed(rt.feed),
				api.WithGatherer(rt.prom),
			)
			ctx := cmd.Context()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("listening"), srv.BaseURL())

			sub := rt.feed.Subscribe("")
			defer sub.Cancel()
			for {
				select {
				case <-ctx.Done():
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					fmt.Fprintln(out, mutedStyle.Render("shutting down"))
					return srv.Shutdown(shutdownCtx)
				case evt, ok := <-sub.Events:
					if !ok {
						return nil
					}
					fmt.Fprintf(out, "%s %s completed %s -> %s\n",
						evt.At.Format(time.TimeOnly), titleStyle.Render(evt.TaskID), evt.Tool, evt.ExitStatus)
				}
			}
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = c.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}
