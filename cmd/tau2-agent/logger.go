package main

import (
	"fmt"
	"os"

	"github.com/wuTims/tau2-bench-agent/pkg/config"
	"github.com/wuTims/tau2-bench-agent/pkg/logger"
)

const (
	logLevelEnvVar  = "LOG_LEVEL"
	logFormatEnvVar = "LOG_FORMAT"
	logFileEnvVar   = "LOG_FILE"
)

// initLogger installs the process-wide logger. Each setting resolves as
// CLI flag, then environment variable, then config file, then default.
// The config section is nil before a config file has been loaded; serve
// re-initialises with it afterwards, which keeps the same precedence.
func initLogger(cliLevel, cliFile, cliFormat string, cfg *config.LoggingConfig) (func(), error) {
	var cfgLevel, cfgFormat, cfgFile string
	if cfg != nil {
		cfgLevel, cfgFormat, cfgFile = cfg.Level, cfg.Format, cfg.File
	}

	level := firstNonEmpty(cliLevel, os.Getenv(logLevelEnvVar), cfgLevel, "info")
	format := firstNonEmpty(cliFormat, os.Getenv(logFormatEnvVar), cfgFormat, logger.FormatText)
	file := firstNonEmpty(cliFile, os.Getenv(logFileEnvVar), cfgFile)

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
