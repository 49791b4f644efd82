package main

import (
	"encoding/json"
	"fmt"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const appVersion = "0.4.1"

// appContext defers app construction until the config flag is parsed
type appContext struct {
	configPath string
	app        *App
}

// newRootCmd assembles the CLI
func newRootCmd() *cobra.Command {
	ctx := &appContext{}

	root := &cobra.Command{
		Use:   "evalmodel",
		Short: "Evaluate, explain and compare ML models",
		Long: `EvalModel loads exported model artifacts, scores them against
registered datasets and keeps the results queryable: unified scores,
meta evaluation, explainability, fairness and dataset insights.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadPlatformConfig(ctx.configPath)
			if err != nil {
				return err
			}
			configureLogging(cfg.Logging.Level)
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			ctx.app = app
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.app != nil {
				ctx.app.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&ctx.configPath, "config", "", "path to the configuration file")

	root.AddCommand(
		newEvaluateCmd(ctx),
		newCompareCmd(ctx),
		newModelsCmd(ctx),
		newDatasetsCmd(ctx),
		newInsightsCmd(ctx),
		newHistoryCmd(ctx),
		newSweepCmd(ctx),
		newConsoleCmd(ctx),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:              "version",
		Short:            "Print the evalmodel version",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("evalmodel " + appVersion)
		},
	}
}

func newSweepCmd(ctx *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale run workspaces and orphaned artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.app.janitor.Sweep()
			if err != nil {
				return wrapCLIError(err)
			}
			fmt.Printf("Removed %d stale workspaces and %d orphaned blobs\n", report.Workspaces, report.Blobs)
			return nil
		},
	}
}

// wrapCLIError separates problems the caller can correct (bad
// artifacts, unsupported combinations, datasets off contract) from
// platform faults
func wrapCLIError(err error) error {
	if err == nil {
		return nil
	}
	var loadErr *evaluation.LoadError
	var contractErr *evaluation.DataContractError
	var comboErr *evaluation.UnsupportedCombinationError
	if errors.As(err, &loadErr) || errors.As(err, &contractErr) || errors.As(err, &comboErr) {
		return errors.WithMessage(err, "request cannot be processed")
	}
	return errors.WithMessage(err, "internal error")
}

// printJSON writes a value as indented JSON to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	fmt.Println(string(data))
	return nil
}
