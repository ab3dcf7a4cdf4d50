package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
)

func newEvaluatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluators",
		Short: "List the registered evaluators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := evaluators.NewRegistry(nil)
			for _, name := range registry.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
