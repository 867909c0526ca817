package simulate

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger to write to stdout and to
// logFile. An empty logFile gets a timestamped name. The returned func
// closes the file.
func SetupLogging(logFile, format string) (string, func() error, error) {
	if logFile == "" {
		logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return "", nil, fmt.Errorf("create log file: %w", err)
	}
	if err := logger.Init(logger.WithFormat(format), logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return "", nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logFile, file.Close, nil
}

// Usage is printed by the simulate command for -help.
const Usage = `civicstake simulator
====================

Drives a running civicstake service with a reproducible population of
citizens, officials and questions, then verifies point conservation,
question bounties, and leaderboard ordering.

Usage:
  go run ./cmd/simulate [options]

Examples:
  # Default scenario against a local service
  go run ./cmd/simulate

  # Larger run with a fixed seed and a saved report
  go run ./cmd/simulate -citizens 500 -officials 40 -questions 2000 -seed 7 -output report.json

  # Only answer questions, never vote them helpful
  go run ./cmd/simulate -answer-rate 1 -helpful-rate 0

Exit status is 1 when the run fails or any check reports a violation.

Options:
`
