package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConsoleCmd(ctx *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive evaluation console",
		RunE: func(cmd *cobra.Command, args []string) error {
			console := &Console{app: ctx.app}
			return console.Run()
		},
	}
}

// Console is the interactive shell over the same operations the CLI
// commands expose
type Console struct {
	app *App
}

func consoleHistoryFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
	}
	return filepath.Join(homeDir, ".config", "evalmodel", "console_history")
}

// Run reads and dispatches console lines until exit or EOF
func (c *Console) Run() error {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("evaluate"),
		readline.PcItem("compare"),
		readline.PcItem("models",
			readline.PcItem("list"),
			readline.PcItem("show"),
			readline.PcItem("upload"),
			readline.PcItem("delete"),
		),
		readline.PcItem("datasets",
			readline.PcItem("list"),
			readline.PcItem("show"),
			readline.PcItem("upload"),
			readline.PcItem("delete"),
		),
		readline.PcItem("insights"),
		readline.PcItem("history"),
		readline.PcItem("sweep"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "eval> ",
		HistoryFile:       consoleHistoryFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryLimit:      500,
		HistorySearchFold: true,
		AutoComplete:      completer,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize console")
	}
	defer rl.Close()

	fmt.Println("EvalModel console. Type 'help' for commands, 'exit' to leave.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Ctrl+C at the prompt just clears the line
				continue
			}
			if err == io.EOF {
				break
			}
			return errors.Wrap(err, "failed to read input")
		}

		if !c.dispatch(strings.TrimSpace(line)) {
			break
		}
	}
	fmt.Println("Goodbye")
	return nil
}

// dispatch runs one console line; false ends the session
func (c *Console) dispatch(line string) bool {
	if line == "" {
		return true
	}
	fields := strings.Fields(line)
	args := fields[1:]

	switch fields[0] {
	case "exit", "quit":
		return false
	case "help":
		printConsoleHelp()
	case "evaluate":
		c.evaluate(args)
	case "compare":
		c.compare(args)
	case "models":
		c.models(args)
	case "datasets":
		c.datasets(args)
	case "insights":
		c.insights(args)
	case "history":
		c.history(args)
	case "sweep":
		c.sweep()
	default:
		fmt.Printf("Unknown command %q. Type 'help' for the command list.\n", fields[0])
	}
	return true
}

func (c *Console) evaluate(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: evaluate <model> <dataset> [task] [target] [sensitive]")
		return
	}
	opts := EvaluationOptions{ModelRef: args[0], DatasetRef: args[1]}
	if len(args) > 2 {
		opts.Task = args[2]
	}
	if len(args) > 3 {
		opts.Target = args[3]
	}
	if len(args) > 4 {
		opts.SensitiveAttr = args[4]
	}

	outcome, err := c.app.runner.Run(opts)
	if err != nil {
		fmt.Printf("Error: %v\n", wrapCLIError(err))
		return
	}
	printEvaluation(outcome)
}

func (c *Console) compare(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: compare <dataset> <model> <model> [model...]")
		return
	}
	ranked, err := c.app.runner.Compare(args[1:], args[0], "", "")
	if err != nil {
		fmt.Printf("Error: %v\n", wrapCLIError(err))
		return
	}
	printLeaderboard(ranked)
}

func (c *Console) models(args []string) {
	if len(args) == 0 || args[0] == "list" {
		models, err := c.app.registry.ListModels()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(models) == 0 {
			fmt.Println("No models registered")
			return
		}
		for _, rec := range models {
			fmt.Printf("%-36s %-24s %-12s %s\n", rec.ID, rec.Name, rec.Framework, formatSize(rec.SizeBytes))
		}
		return
	}

	switch args[0] {
	case "show":
		if len(args) < 2 {
			fmt.Println("Usage: models show <id-or-name>")
			return
		}
		rec, err := c.app.registry.ResolveModel(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		printJSON(rec)
	case "upload":
		if len(args) < 2 {
			fmt.Println("Usage: models upload <artifact>")
			return
		}
		rec, err := c.app.registry.UploadModel(args[1], "", "", "", "")
		if err != nil {
			fmt.Printf("Error: %v\n", wrapCLIError(err))
			return
		}
		fmt.Printf("Registered model %s (%s, %s)\n", rec.Name, rec.ID, rec.Framework)
	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: models delete <id-or-name>")
			return
		}
		if err := c.app.registry.DeleteModel(args[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println("Model deleted")
	default:
		fmt.Println("Usage: models [list|show <ref>|upload <path>|delete <ref>]")
	}
}

func (c *Console) datasets(args []string) {
	if len(args) == 0 || args[0] == "list" {
		datasets, err := c.app.registry.ListDatasets()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(datasets) == 0 {
			fmt.Println("No datasets registered")
			return
		}
		for _, rec := range datasets {
			fmt.Printf("%-36s %-24s %8d rows %6d cols\n", rec.ID, rec.Name, rec.Rows, rec.Cols)
		}
		return
	}

	switch args[0] {
	case "show":
		if len(args) < 2 {
			fmt.Println("Usage: datasets show <id-or-name>")
			return
		}
		rec, err := c.app.registry.ResolveDataset(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		printJSON(rec)
	case "upload":
		if len(args) < 2 {
			fmt.Println("Usage: datasets upload <csv>")
			return
		}
		rec, err := c.app.registry.UploadDataset(args[1], "")
		if err != nil {
			fmt.Printf("Error: %v\n", wrapCLIError(err))
			return
		}
		fmt.Printf("Registered dataset %s (%s): %d rows, %d columns\n", rec.Name, rec.ID, rec.Rows, rec.Cols)
	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: datasets delete <id-or-name>")
			return
		}
		if err := c.app.registry.DeleteDataset(args[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println("Dataset deleted")
	default:
		fmt.Println("Usage: datasets [list|show <ref>|upload <path>|delete <ref>]")
	}
}

func (c *Console) insights(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: insights <dataset>")
		return
	}
	report, rec, err := c.app.runner.AnalyzeDataset(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", wrapCLIError(err))
		return
	}
	fmt.Printf("Insights: %s (%d rows, %d columns)\n", rec.Name, rec.Rows, rec.Cols)
	printQuality(report.Quality)
	printOutliers(report.Outliers)
	printCorrelations(report.Correlations)
	fmt.Println(report.Summary)
}

func (c *Console) history(args []string) {
	modelID := ""
	limit := 0
	if len(args) > 0 {
		rec, err := c.app.registry.ResolveModel(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		modelID = rec.ID
	}
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Invalid limit %q\n", args[1])
			return
		}
		limit = parsed
	}

	entries, err := c.app.meta.History(modelID, limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No evaluations recorded")
		return
	}
	for _, entry := range entries {
		fmt.Printf("%-28s %-24s %-10.2f %s\n",
			entry.ModelName, entry.DatasetName, entry.EvalScore,
			entry.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func (c *Console) sweep() {
	report, err := c.app.janitor.Sweep()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Removed %d stale workspaces and %d orphaned blobs\n", report.Workspaces, report.Blobs)
}

func printConsoleHelp() {
	fmt.Println("Commands")
	fmt.Println("========")
	fmt.Println("  evaluate <model> <dataset> [task] [target] [sensitive]  - run an evaluation")
	fmt.Println("  compare <dataset> <model> <model> [model...]            - rank models on a dataset")
	fmt.Println("  models [list|show <ref>|upload <path>|delete <ref>]     - manage models")
	fmt.Println("  datasets [list|show <ref>|upload <path>|delete <ref>]   - manage datasets")
	fmt.Println("  insights <dataset>                                      - analyze a dataset")
	fmt.Println("  history [model] [limit]                                 - recent evaluations")
	fmt.Println("  sweep                                                   - clean up stale artifacts")
	fmt.Println("  exit                                                    - leave the console")
}
