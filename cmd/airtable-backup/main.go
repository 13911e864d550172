// Command airtable-backup saves every base and table of an Airtable account
// to a tree of JSON files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/airtable-backup/pkg/archive"
	"github.com/Sternrassler/airtable-backup/pkg/backup"
	"github.com/Sternrassler/airtable-backup/pkg/client"
	"github.com/Sternrassler/airtable-backup/pkg/logging"
	"github.com/Sternrassler/airtable-backup/pkg/metrics"
	"github.com/Sternrassler/airtable-backup/pkg/ratelimit"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	envToken    = "AIRTABLE_TOKEN"
	envRedisURL = "AIRTABLE_BACKUP_REDIS_URL"
)

type options struct {
	token           string
	ignoreTables    []string
	includeComments bool
	logLevel        string
	logPretty       bool
	redisURL        string
	metricsFile     string
	apiURL          string
}

// env abstracts process state so run can be tested.
type env struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	now    func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		now:    time.Now,
	})
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, e env) int {
	cmd := newRootCmd(e)
	cmd.SetArgs(args)
	cmd.SetOut(e.stdout)
	cmd.SetErr(e.stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(e env) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "airtable-backup [backup_directory]",
		Short: "Save data from Airtable to a series of local JSON files / folders",
		Long: `Save data from Airtable to a series of local JSON files / folders.

Every table ends up as <backup_directory>/<base>/<table>/schema.json and
records.json. The directory defaults to ./airtable-backup-<today>.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("airtable-token") {
				opts.token = e.getenv(envToken)
			}
			if !cmd.Flags().Changed("redis-url") {
				opts.redisURL = e.getenv(envRedisURL)
			}
			if opts.token == "" {
				return fmt.Errorf("missing option --airtable-token (or %s)", envToken)
			}

			dir := filepath.Join(".", "airtable-backup-"+e.now().Format(time.DateOnly))
			if len(args) == 1 {
				dir = args[0]
			}
			return backupAccount(cmd.Context(), dir, opts, e)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.ignoreTables, "ignore-table", nil, "Table id(s) to ignore when backing up")
	f.StringVar(&opts.token, "airtable-token", "", "Airtable access token (env "+envToken+")")
	f.BoolVar(&opts.includeComments, "include-comments", false,
		"Whether to include row comments in the backup. May slow down the backup considerably if many rows have comments")
	f.StringVar(&opts.logLevel, "log-level", string(logging.LevelWarn), "Log level: debug, info, warn or error")
	f.BoolVar(&opts.logPretty, "log-pretty", false, "Human-readable logs instead of JSON")
	f.StringVar(&opts.redisURL, "redis-url", "", "Share the request pace with other runs through Redis (env "+envRedisURL+")")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the run ends")
	f.StringVar(&opts.apiURL, "api-url", client.DefaultBaseURL, "Airtable API root")
	_ = f.MarkHidden("api-url")

	cmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	return cmd
}

func backupAccount(ctx context.Context, dir string, opts options, e env) (err error) {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := logging.Setup(logging.Config{
		Level:  level,
		Pretty: opts.logPretty,
		Output: e.stderr,
		RunID:  runID,
	})

	m := metrics.New()
	start := e.now()
	if opts.metricsFile != "" {
		defer func() {
			m.RunDuration.Set(e.now().Sub(start).Seconds())
			if err == nil {
				m.LastSuccess.Set(float64(e.now().Unix()))
			}
			if werr := m.WriteTextfile(opts.metricsFile); werr != nil {
				logger.Warn().Err(werr).Str("path", opts.metricsFile).Msg("Failed to write metrics")
			}
		}()
	}

	pacer, closePacer, err := newPacer(ctx, opts, runID)
	if err != nil {
		return err
	}
	defer closePacer()

	cfg := client.DefaultConfig(opts.token)
	cfg.BaseURL = opts.apiURL
	cfg.Pacer = pacer
	cfg.Metrics = m
	api, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer api.Close()

	printer := &progressPrinter{out: e.stdout}

	wcfg := backup.DefaultConfig()
	wcfg.Metrics = m
	wcfg.Progress = printer.handle
	walker := backup.NewWalker(api, wcfg)

	fmt.Fprintf(e.stdout, "Backing up to %s\n", dir)
	fmt.Fprint(e.stdout, "Fetching bases...")
	printer.midLine = true

	summary, err := walker.Run(ctx, archive.NewWriter(dir), backup.Options{
		IgnoreTables:    opts.ignoreTables,
		IncludeComments: opts.includeComments,
	})
	if err != nil {
		printer.endLine()
		logger.Error().Err(err).Msg("Backup failed")
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted: %w", err)
		}
		return err
	}

	fmt.Fprintf(e.stdout, "Done! Wrote %d table(s) with %d record(s) and %d comment(s), skipped %d table(s)\n",
		summary.TablesWritten, summary.Records, summary.Comments, summary.TablesSkipped)
	return nil
}

// newPacer returns the shared Redis pacer when a Redis URL is configured and
// a process-local one otherwise.
func newPacer(ctx context.Context, opts options, runID string) (ratelimit.Pacer, func(), error) {
	if opts.redisURL == "" {
		return ratelimit.NewLocalPacer(ratelimit.DefaultInterval), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(opts.redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	pacer := ratelimit.NewRedisPacer(rdb, ratelimit.ScopeForToken(opts.token), ratelimit.DefaultInterval, runID, logging.NewLogger("pacer"))
	return pacer, func() { rdb.Close() }, nil
}

// progressPrinter renders walker events as the human-readable progress log.
type progressPrinter struct {
	out     io.Writer
	midLine bool
}

func (p *progressPrinter) handle(ev backup.Event) {
	switch ev.Kind {
	case backup.EventBasesFound:
		p.printf(" done! Found %d\n", ev.Total)
	case backup.EventBaseStarted:
		p.printf("  (%d/%d) Fetching info for: %s\n", ev.Index+1, ev.Total, ev.Base.Name)
	case backup.EventTableSkipped:
		p.printf("    (%d/%d) Skipping table: %s\n", ev.Index+1, ev.Total, ev.Table.Name)
	case backup.EventTableStarted:
		p.printf("    (%d/%d) Saving table: %s\n", ev.Index+1, ev.Total, ev.Table.Name)
		p.printf("      loading records")
	case backup.EventPageFetched:
		p.printf(".")
	case backup.EventCommentsStarted:
		p.printf("\n      loading comments for %d record(s)", ev.Count)
	case backup.EventNoComments:
		p.printf("\n      no comments for this table")
	case backup.EventTableWritten:
		p.printf("\n      wrote %s\n", archive.RecordsFile)
	}
}

func (p *progressPrinter) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
	p.midLine = format[len(format)-1] != '\n'
}

// endLine terminates a partially printed progress line.
func (p *progressPrinter) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}
