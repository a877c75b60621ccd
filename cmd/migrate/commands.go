package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/migration/app"
	"github.com/linkflow-ai/dbmigrate/internal/migration/app/service"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
)

const serviceName = "migration"

// environment is what every command works with
type environment struct {
	app *app.App
	out io.Writer
}

// execute parses global flags, builds the runner and dispatches to a
// command. It returns the process exit code.
func execute(ctx context.Context, args []string) int {
	return executeTo(ctx, args, os.Stdout)
}

func executeTo(ctx context.Context, args []string, out io.Writer) int {
	global := flag.NewFlagSet("migrate", flag.ContinueOnError)
	global.Usage = usage
	configPath := global.String("config", "", "path to a config file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage()
		return 2
	}

	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := logger.New(cfg.Logger)
	defer func() {
		if z, ok := log.(*logger.ZapLogger); ok {
			z.Sync()
		}
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to start migration runner", "error", err)
		return 1
	}
	defer a.Close(context.Background())

	env := &environment{app: a, out: out}
	if err := cmd(ctx, env, global.Args()[1:]); err != nil {
		logFailure(log, name, err)
		return 1
	}
	return 0
}

// loadConfig reads path when given, otherwise the default locations. Logs go
// to stderr so command output can be piped.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path, serviceName)
	} else {
		cfg, err = config.Load(serviceName)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Logger.OutputPath == "" || cfg.Logger.OutputPath == "stdout" {
		cfg.Logger.OutputPath = "stderr"
	}
	return cfg, nil
}

func logFailure(log logger.Logger, command string, err error) {
	var appErr *model.ApplicationError
	if errors.As(err, &appErr) {
		log.Error("Migration failed", "command", command, "source", appErr.Source, "migration", appErr.Filename, "error", appErr.Err)
		return
	}
	log.Error("Command failed", "command", command, "error", err)
}

func runRun(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "list pending migrations without applying them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := env.app.Service.Run(ctx, service.RunOptions{DryRun: *dryRun})
	if err != nil {
		if result != nil {
			printResults(env.out, result.Applied)
		}
		return err
	}

	if result.DryRun {
		printFiles(env.out, result.Planned)
		return nil
	}
	printResults(env.out, result.Applied)
	fmt.Fprintf(env.out, "applied %d migrations in %s\n", len(result.Applied), result.Duration.Round(time.Millisecond))
	return nil
}

// sourceList collects repeated -source flags
type sourceList []string

func (l *sourceList) String() string { return strings.Join(*l, ",") }

func (l *sourceList) Set(v string) error {
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*l = append(*l, name)
		}
	}
	return nil
}

func runInit(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var sources sourceList
	fs.Var(&sources, "source", "source to initialize (repeatable, default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := env.app.Service.Initialize(ctx, service.InitOptions{Sources: sources})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tWATERMARK")
	for _, wm := range result.Watermarks {
		fmt.Fprintf(w, "%s\t%s\n", wm.Service, wm.Key())
	}
	for _, name := range result.Skipped {
		fmt.Fprintf(w, "%s\t(unchanged)\n", name)
	}
	return w.Flush()
}

func runStatus(ctx context.Context, env *environment, args []string) error {
	status, err := env.app.Service.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tPATH\tWATERMARK\tPENDING")
	for _, s := range status.Sources {
		watermark := "-"
		if s.Watermark != nil {
			watermark = s.Watermark.Key().String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Source.Name, s.Source.Path, watermark, s.Pending)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !status.Initialized {
		fmt.Fprintln(env.out, "not initialized: run 'migrate init' on a database whose schema is current")
	}
	return nil
}

func runPending(ctx context.Context, env *environment, args []string) error {
	files, err := env.app.Service.Pending(ctx)
	if err != nil {
		return err
	}
	printFiles(env.out, files)
	return nil
}

func printFiles(out io.Writer, files []*model.MigrationFile) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tMIGRATION\tKIND")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Source.Name, f.Filename, f.Kind)
	}
	w.Flush()
}

func printResults(out io.Writer, results []model.MigrationResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tMIGRATION\tSTATUS\tDURATION")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n", r.Source, r.Filename, r.Status, r.DurationMs)
	}
	w.Flush()
}
