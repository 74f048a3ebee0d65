package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/cuebox/internal/core"
)

func volumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume [0-100|+/-delta]",
		Short: "Show or set volume",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			if len(args) == 0 {
				return showVolume(ctx, cmd, app)
			}
			result, err := app.service.SetVolume(ctx, app.target, args[0])
			if err != nil {
				return err
			}
			return app.printState(result)
		},
	}
	cmd.Example = "  cuebox volume 40\n  cuebox volume +5\n  cuebox volume -- -10"
	return cmd
}

func showVolume(ctx context.Context, cmd *cobra.Command, app *app) error {
	result, err := app.service.Status(ctx, app.target)
	if err != nil {
		return err
	}
	if app.json {
		return app.printer.Print(map[string]float64{"volume": result.State.Volume})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d%%\n", volumePercent(result))
	return err
}

func volumePercent(result core.StatusResult) int {
	return int(math.Round(result.State.Volume * 100))
}
