package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/animus-labs/pipestack/internal/platform/logging"
	repo "github.com/animus-labs/pipestack/internal/repo/postgres"
)

const usage = `usage: pipestack <command> [flags]

commands:
  run <source-file> --config <doc> [--stack <file>]   resolve and run a pipeline
  stack up|down|suspend|resume|status|validate [--stack <file>]
  flavor list                                           list registered component flavors
  runs list [--stack <file>] [--pipeline <name>]        list recorded runs
  step --symbol <name> [--params <json>] [--materializers <json>] [--output-dir <dir>]
                                                        run one step (used inside workflow containers)
`

var errUsage = errors.New("invalid usage")

func main() {
	logCfg, err := logging.ConfigFromEnv()
	if err != nil {
		die("config", err)
	}
	logger := logging.New(logCfg, os.Stderr)

	cfg, err := ConfigFromEnv()
	if err != nil {
		die("config", err)
	}
	a, err := newApp(cfg, logger, os.Stdout)
	if err != nil {
		die("setup", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.dispatch(ctx, os.Args[1:]); err != nil {
		stop()
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		die(commandName(os.Args[1:]), err)
	}
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "pipestack"
	}
	if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
		return args[0] + " " + args[1]
	}
	return args[0]
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return a.cmdRun(ctx, rest)
	case "stack":
		if len(rest) == 0 {
			return errUsage
		}
		fs := newFlagSet("stack " + rest[0])
		stackFile := fs.String("stack", "", "stack definition file (default $PIPESTACK_STACK_FILE)")
		if err := fs.Parse(rest[1:]); err != nil {
			return errUsage
		}
		err := a.stackCommand(ctx, rest[0], *stackFile)
		a.pushMetrics(ctx, "pipestack_stack")
		return err
	case "flavor":
		if len(rest) != 1 || rest[0] != "list" {
			return errUsage
		}
		return a.listFlavors()
	case "runs":
		if len(rest) == 0 || rest[0] != "list" {
			return errUsage
		}
		fs := newFlagSet("runs list")
		stackFile := fs.String("stack", "", "stack definition file (default $PIPESTACK_STACK_FILE)")
		pipelineName := fs.String("pipeline", "", "only runs of this pipeline")
		limit := fs.Int("limit", 50, "maximum number of runs")
		if err := fs.Parse(rest[1:]); err != nil {
			return errUsage
		}
		return a.listRuns(ctx, *stackFile, repo.RunFilter{Pipeline: *pipelineName, Limit: *limit})
	case "step":
		fs := newFlagSet("step")
		symbol := fs.String("symbol", "", "step symbol")
		params := fs.String("params", "", "step parameters as a JSON object")
		materializers := fs.String("materializers", "", "output name to materializer symbol as a JSON object")
		outputDir := fs.String("output-dir", "", "directory receiving one file per output")
		pipelineName := fs.String("pipeline", "", "pipeline the step belongs to")
		slot := fs.String("slot", "", "slot the step fills")
		if err := fs.Parse(rest); err != nil || *symbol == "" {
			return errUsage
		}
		a.logger.Info("running step", "pipeline", *pipelineName, "step", *slot, "symbol", *symbol)
		return a.runStep(ctx, stepRequest{Symbol: *symbol, Params: *params, Materializers: *materializers, OutputDir: *outputDir})
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return errUsage
	}
}

// cmdRun accepts the source file before or after the flags.
func (a *app) cmdRun(ctx context.Context, args []string) error {
	var source string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		source, args = args[0], args[1:]
	}
	fs := newFlagSet("run")
	configPath := fs.String("config", "", "pipeline configuration document")
	stackFile := fs.String("stack", "", "stack definition file (default $PIPESTACK_STACK_FILE)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if source == "" {
		source = fs.Arg(0)
	}
	if source == "" {
		return errUsage
	}

	fmt.Fprintf(a.out, "==> pipestack run (source=%s, config=%s)\n", source, *configPath)
	rec, err := a.runPipeline(ctx, source, *configPath, *stackFile)
	a.pushMetrics(ctx, "pipestack_run")
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "==> submitted run: %s (pipeline=%s stack=%s kind=%s status=%s)\n",
		rec.RunName, rec.Pipeline, rec.Stack, rec.Submission.Kind, rec.Submission.Status)
	if rec.Submission.RunID != "" && rec.Submission.RunID != rec.RunName {
		fmt.Fprintf(a.out, "==> backend run id: %s\n", rec.Submission.RunID)
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func die(step string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", step, err)
	os.Exit(1)
}
