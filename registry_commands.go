package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelsCmd(ctx *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage registered models",
	}

	var name, framework, task, sensitive string
	upload := &cobra.Command{
		Use:   "upload <artifact>",
		Short: "Register a model artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ctx.app.registry.UploadModel(args[0], name, framework, task, sensitive)
			if err != nil {
				return wrapCLIError(err)
			}
			fmt.Printf("Registered model %s (%s, %s)\n", rec.Name, rec.ID, rec.Framework)
			return nil
		},
	}
	upload.Flags().StringVar(&name, "name", "", "model name (defaults to the file name)")
	upload.Flags().StringVar(&framework, "framework", "", "framework (detected from the extension when omitted)")
	upload.Flags().StringVar(&task, "task", "", "default task type for this model")
	upload.Flags().StringVar(&sensitive, "sensitive", "", "sensitive attribute column hint for fairness")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := ctx.app.registry.ListModels()
			if err != nil {
				return wrapCLIError(err)
			}
			if len(models) == 0 {
				fmt.Println("No models registered")
				return nil
			}
			fmt.Printf("%-36s %-24s %-12s %-14s %-9s %s\n", "ID", "Name", "Framework", "Task", "Evaluated", "Size")
			for _, rec := range models {
				evaluated := "no"
				if rec.IsEvaluated {
					evaluated = "yes"
				}
				fmt.Printf("%-36s %-24s %-12s %-14s %-9s %s\n",
					rec.ID, rec.Name, rec.Framework, rec.TaskType, evaluated, formatSize(rec.SizeBytes))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Show one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ctx.app.registry.ResolveModel(args[0])
			if err != nil {
				return wrapCLIError(err)
			}
			return printJSON(rec)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a model and its evaluations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.app.registry.DeleteModel(args[0]); err != nil {
				return wrapCLIError(err)
			}
			fmt.Println("Model deleted")
			return nil
		},
	}

	cmd.AddCommand(upload, list, show, del)
	return cmd
}

func newDatasetsCmd(ctx *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Manage registered datasets",
	}

	var name string
	upload := &cobra.Command{
		Use:   "upload <csv>",
		Short: "Register a CSV dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ctx.app.registry.UploadDataset(args[0], name)
			if err != nil {
				return wrapCLIError(err)
			}
			fmt.Printf("Registered dataset %s (%s): %d rows, %d columns\n", rec.Name, rec.ID, rec.Rows, rec.Cols)
			return nil
		},
	}
	upload.Flags().StringVar(&name, "name", "", "dataset name (defaults to the file name)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := ctx.app.registry.ListDatasets()
			if err != nil {
				return wrapCLIError(err)
			}
			if len(datasets) == 0 {
				fmt.Println("No datasets registered")
				return nil
			}
			fmt.Printf("%-36s %-24s %8s %6s %10s\n", "ID", "Name", "Rows", "Cols", "Size")
			for _, rec := range datasets {
				fmt.Printf("%-36s %-24s %8d %6d %10s\n",
					rec.ID, rec.Name, rec.Rows, rec.Cols, formatSize(rec.SizeBytes))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Show one dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ctx.app.registry.ResolveDataset(args[0])
			if err != nil {
				return wrapCLIError(err)
			}
			return printJSON(rec)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a dataset and its evaluations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.app.registry.DeleteDataset(args[0]); err != nil {
				return wrapCLIError(err)
			}
			fmt.Println("Dataset deleted")
			return nil
		},
	}

	cmd.AddCommand(upload, list, show, del)
	return cmd
}

// formatSize renders a byte count for table output
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%d B", bytes)
}
