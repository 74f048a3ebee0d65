package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/cuebox/internal/core"
)

type stateAction func(ctx context.Context, app *app, args []string) (core.StatusResult, error)

// stateCommand builds a command that prints the resulting session state.
func stateCommand(use, short string, args cobra.PositionalArgs, action stateAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			result, err := action(ctx, app, args)
			if err != nil {
				return err
			}
			return app.printState(result)
		},
	}
}

func playCommand() *cobra.Command {
	return stateCommand("play <item-id>...", "Replace the queue with items and start playing", cobra.MinimumNArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			return app.service.PlayItems(ctx, app.target, args)
		})
}

func selectCommand() *cobra.Command {
	return stateCommand("select <item-id>", "Play one item from the catalog", cobra.ExactArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			return app.service.Select(ctx, app.target, args[0])
		})
}

func toggleCommand() *cobra.Command {
	return stateCommand("toggle", "Toggle play and pause", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.Toggle(ctx, app.target)
		})
}

func nextCommand() *cobra.Command {
	return stateCommand("next", "Skip to the next item", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.Next(ctx, app.target)
		})
}

func prevCommand() *cobra.Command {
	return stateCommand("prev", "Restart the item or go back", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.Prev(ctx, app.target)
		})
}

func seekCommand() *cobra.Command {
	cmd := stateCommand("seek <seconds|m:ss|+/-delta>", "Seek within the current item", cobra.ExactArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			return app.service.Seek(ctx, app.target, args[0])
		})
	cmd.Example = "  cuebox seek 90\n  cuebox seek 1:30\n  cuebox seek -- -10s"
	return cmd
}

func shuffleCommand() *cobra.Command {
	return stateCommand("shuffle", "Cycle shuffle mode (off, shuffle, smart)", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.Shuffle(ctx, app.target)
		})
}

func repeatCommand() *cobra.Command {
	return stateCommand("repeat", "Cycle repeat mode (off, all, one)", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.Repeat(ctx, app.target)
		})
}
