package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/cuebox/internal/core"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			if watch {
				return watchStatus(cmd.Context(), app)
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			result, err := app.service.Status(ctx, app.target)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream status updates until interrupted")

	return cmd
}

func watchStatus(parent context.Context, app *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initial, states, errs, err := app.service.WatchStatus(ctx, app.target)
	if err != nil {
		return err
	}
	if err := app.printer.Print(initial); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := app.printer.Print(core.StatusResult{Server: initial.Server, State: state}); err != nil {
				return err
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return core.WrapError(core.ExitRuntime, "watch session", err)
			}
		}
	}
}
