package main

import (
	"github.com/spf13/cobra"
)

func lsCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List session servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			result, err := app.service.ListNodes(ctx, !all)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include nodes that are not session servers")
	return cmd
}
