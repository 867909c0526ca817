package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/civicstake/internal/simulate"
	"github.com/okian/civicstake/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	def := simulate.DefaultConfig()
	var (
		cfg       = def
		seed      = flag.Uint64("seed", def.Seed, "Random seed; equal seeds produce equal scenarios")
		logFile   = flag.String("log", "", "Log file (default: simulate_TIMESTAMP.log)")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		runFor    = flag.Duration("run-timeout", defaultRunTimeout, "Upper bound for the whole run")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.StringVar(&cfg.BaseURL, "url", def.BaseURL, "Base URL of the service")
	flag.IntVar(&cfg.Citizens, "citizens", def.Citizens, "Number of citizen accounts")
	flag.IntVar(&cfg.Officials, "officials", def.Officials, "Number of official accounts")
	flag.IntVar(&cfg.Questions, "questions", def.Questions, "Number of questions to open")
	flag.IntVar(&cfg.StakersPerQuestion, "stakers", def.StakersPerQuestion, "Additional stakers per question")
	flag.Int64Var(&cfg.MaxStake, "max-stake", def.MaxStake, "Largest single stake")
	flag.Int64Var(&cfg.MaxCredit, "max-credit", def.MaxCredit, "Largest point purchase per citizen (0 disables)")
	flag.Float64Var(&cfg.AnswerRate, "answer-rate", def.AnswerRate, "Share of questions that get answered")
	flag.Float64Var(&cfg.DirectRate, "direct-rate", def.DirectRate, "Share of answers written to read as direct")
	flag.Float64Var(&cfg.HelpfulRate, "helpful-rate", def.HelpfulRate, "Chance a staker votes helpful")
	flag.IntVar(&cfg.Workers, "workers", def.Workers, "Concurrent requests")
	flag.DurationVar(&cfg.Timeout, "timeout", def.Timeout, "HTTP request timeout")
	flag.DurationVar(&cfg.Settle, "settle", def.Settle, "How long to wait for ratings to reach the leaderboard")
	flag.BoolVar(&cfg.Sweep, "sweep", def.Sweep, "Trigger an expiry sweep after voting")
	flag.StringVar(&cfg.Output, "output", "", "Write the JSON report to this file")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Log failed requests and the top of the leaderboard")
	flag.Usage = func() {
		os.Stderr.WriteString(simulate.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	cfg.Seed = *seed

	if *help {
		flag.Usage()
		return
	}

	path, closeLog, err := simulate.SetupLogging(*logFile, *logFormat)
	if err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Named("simulate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, *runFor)

	log.Info(ctx, "logging to file", logger.String("logFile", path))
	report, err := simulate.Run(ctx, cfg, log)

	code := 0
	switch {
	case err != nil:
		log.Error(ctx, "simulation failed", logger.Error(err))
		code = 1
	case !report.OK():
		for _, v := range report.Violations {
			log.Error(ctx, "violation", logger.String("detail", v))
		}
		code = 1
	default:
		log.Info(ctx, "simulation passed")
	}

	cancel()
	stop()
	_ = closeLog()
	os.Exit(code)
}
