package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/cuebox/internal/core"
)

func queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue commands",
	}

	cmd.AddCommand(queueListCommand())
	cmd.AddCommand(queueAddCommand())
	cmd.AddCommand(queueRemoveCommand())
	cmd.AddCommand(queueMoveCommand())
	cmd.AddCommand(queueClearCommand())
	cmd.AddCommand(queueJumpCommand())

	return cmd
}

func queueListCommand() *cobra.Command {
	var page int
	var size int

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List queue entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			result, err := app.service.QueueList(ctx, app.target, page, size)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "page number, starting at 0")
	cmd.Flags().IntVar(&size, "size", 50, "entries per page")
	return cmd
}

func queueAddCommand() *cobra.Command {
	var next bool

	cmd := stateCommand("add <item-id>...", "Add items to the queue", cobra.MinimumNArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			return app.service.QueueAdd(ctx, app.target, args, next)
		})
	cmd.Flags().BoolVar(&next, "next", false, "insert after the current item")
	return cmd
}

func queueRemoveCommand() *cobra.Command {
	var byIndex bool

	cmd := stateCommand("rm <item-id|position>", "Remove an item from the queue", cobra.ExactArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			return app.service.QueueRemove(ctx, app.target, args[0], byIndex)
		})
	cmd.Aliases = []string{"remove"}
	cmd.Flags().BoolVar(&byIndex, "index", false, "treat the argument as a queue position")
	return cmd
}

func queueMoveCommand() *cobra.Command {
	return stateCommand("mv <from> <to>", "Move a queue entry", cobra.ExactArgs(2),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			from, err := parsePosition(args[0])
			if err != nil {
				return core.StatusResult{}, err
			}
			to, err := parsePosition(args[1])
			if err != nil {
				return core.StatusResult{}, err
			}
			return app.service.QueueMove(ctx, app.target, from, to)
		})
}

func queueClearCommand() *cobra.Command {
	return stateCommand("clear", "Clear the queue", cobra.NoArgs,
		func(ctx context.Context, app *app, _ []string) (core.StatusResult, error) {
			return app.service.QueueClear(ctx, app.target)
		})
}

func queueJumpCommand() *cobra.Command {
	return stateCommand("jump <position>", "Skip to a queue position", cobra.ExactArgs(1),
		func(ctx context.Context, app *app, args []string) (core.StatusResult, error) {
			index, err := parsePosition(args[0])
			if err != nil {
				return core.StatusResult{}, err
			}
			return app.service.QueueJump(ctx, app.target, index)
		})
}

func parsePosition(arg string) (int, error) {
	value, err := strconv.Atoi(arg)
	if err != nil || value < 0 {
		return 0, &core.CLIError{Code: core.ExitUsage, Msg: "position must be a non-negative integer"}
	}
	return value, nil
}
