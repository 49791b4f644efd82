package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(ctx *appContext) *cobra.Command {
	var model string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID := ""
			if model != "" {
				rec, err := ctx.app.registry.ResolveModel(model)
				if err != nil {
					return wrapCLIError(err)
				}
				modelID = rec.ID
			}
			entries, err := ctx.app.meta.History(modelID, limit)
			if err != nil {
				return wrapCLIError(err)
			}
			if len(entries) == 0 {
				fmt.Println("No evaluations recorded")
				return nil
			}
			fmt.Printf("%-28s %-24s %-12s %-10s %s\n", "Model", "Dataset", "Task", "Score", "Evaluated")
			for _, entry := range entries {
				fmt.Printf("%-28s %-24s %-12s %-10.2f %s\n",
					entry.ModelName, entry.DatasetName, entry.TaskType, entry.EvalScore,
					entry.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "only evaluations of this model")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 50)")
	return cmd
}
