// Command loanctl runs loan lookups and maintenance jobs from the shell.
//
//	loanctl [-config path] extract <transcript.txt>
//	loanctl [-config path] index <call_id>
//	loanctl [-config path] process
//	loanctl [-config path] repair <loan_number>
//	loanctl [-config path] network -window 720h <loan_number>
//	loanctl [-config path] timeline [-window 720h] <loan_number>
//
// Results are printed as indented JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"loanlens/internal/config"
	"loanlens/internal/extractor"
	"loanlens/internal/network"
	"loanlens/internal/processor"
	"loanlens/internal/repository"
	"loanlens/internal/service"
	"loanlens/internal/transcript"
)

var errUsage = errors.New("usage: loanctl [-config path] extract|index|process|repair|network|timeline ...")

func main() {
	cfgPath := flag.String("config", "", "path to config.yml")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, flag.Args(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "loanctl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, args []string, logger *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	// extract needs neither config nor database.
	if cmd == "extract" {
		if len(args) != 1 {
			return errUsage
		}
		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return printJSON(extractor.ExtractFinancialFacts(string(text)))
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := repository.MigrateDB(db, logger); err != nil {
		return err
	}
	calls := repository.NewCallRepository(db, logger)
	loans, proc := wire(db, calls, cfg, logger)

	switch cmd {
	case "index":
		if len(args) != 1 {
			return errUsage
		}
		res, err := loans.Reindex(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "process":
		stats, err := proc.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "repair":
		// Re-runs indexing for every call whose stored loan numbers mention
		// the loan, restoring index rows lost to earlier partial failures.
		if len(args) != 1 {
			return errUsage
		}
		mentioning, err := calls.CallsMentioningLoan(ctx, args[0])
		if err != nil {
			return err
		}
		var results []*service.IngestResult
		for _, c := range mentioning {
			res, err := loans.Reindex(ctx, c.CallID)
			if err != nil {
				return fmt.Errorf("reindex %s: %w", c.CallID, err)
			}
			results = append(results, res)
		}
		return printJSON(results)

	case "network":
		fs := flag.NewFlagSet("network", flag.ContinueOnError)
		window := fs.Duration("window", 0, "expansion window around the loan's calls (required)")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if fs.NArg() != 1 || !hasFlag(fs, "window") {
			return errUsage
		}
		set, err := loans.Network(ctx, fs.Arg(0), *window)
		if err != nil {
			return err
		}
		return printJSON(set)

	case "timeline":
		fs := flag.NewFlagSet("timeline", flag.ContinueOnError)
		window := fs.Duration("window", 0, "expand through the loan officer first")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if fs.NArg() != 1 {
			return errUsage
		}
		var w *time.Duration
		if hasFlag(fs, "window") {
			w = window
		}
		tl, err := loans.Timeline(ctx, fs.Arg(0), w)
		if err != nil {
			return err
		}
		return printJSON(tl)

	default:
		return errUsage
	}
}

func wire(db *sqlx.DB, calls repository.CallRepository, cfg *config.Config, logger *zap.Logger) (service.LoanService, *processor.Processor) {
	store := transcript.NewStore(cfg.Transcripts.Dir, cfg.Transcripts.LoadConcurrency, logger)
	loans := service.NewLoanService(service.Deps{
		Calls:       calls,
		Index:       repository.NewLoanIndexRepository(db, logger),
		Feedback:    repository.NewFeedbackRepository(db, logger),
		Transcripts: store,
		Processors: network.Processors{
			Prefixes: cfg.Network.ProcessorPrefixes,
			Numbers:  cfg.Network.ProcessorNumbers,
		},
		QueryTimeout: cfg.QueryTimeout(),
		Logger:       logger,
	})
	// No transcriber: process only indexes transcripts that already exist.
	proc := processor.NewProcessor(calls, nil, store, loans, logger, cfg.PollInterval(), cfg.Processor.BatchSize, cfg.Processor.MaxAttempts)
	return loans, proc
}

func hasFlag(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
