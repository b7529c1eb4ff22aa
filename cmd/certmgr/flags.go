package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// CLIConfig is what the command line decides before any config file is read.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// flagEnv names the environment variable that seeds each flag's default.
var flagEnv = map[string]string{
	"config":           "CERTMGR_CONFIG",
	"log-level":        "CERTMGR_LOG_LEVEL",
	"log-format":       "CERTMGR_LOG_FORMAT",
	"shutdown-timeout": "CERTMGR_SHUTDOWN_TIMEOUT",
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", "", "JSON or YAML config file; built-in defaults when empty")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "one of debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "json", "json or text")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown budget")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print the version and exit")
	fs.BoolVar(&cfg.Validate, "validate", false, "load and validate the configuration, then exit")
	fs.Func("c", "shorthand for -config", func(v string) error {
		cfg.ConfigPath = v
		return nil
	})
	fs.Usage = func() { usage(os.Stderr, fs) }

	for name, key := range flagEnv {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file %s: %w", cfg.ConfigPath, err)
		}
	}
	switch {
	case !slices.Contains(logLevels, cfg.LogLevel):
		return fmt.Errorf("log level %q not in %v", cfg.LogLevel, logLevels)
	case !slices.Contains(logFormats, cfg.LogFormat):
		return fmt.Errorf("log format %q not in %v", cfg.LogFormat, logFormats)
	case cfg.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	return nil
}

func usage(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, "%s %s (%s): certificate lifecycle manager\n\nUsage: %s [flags]\n\n",
		appName, Version, BuildTime, appName)
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintln(w, "\nEvery flag except -version and -validate can also be set through its environment variable:")
	for _, name := range []string{"config", "log-level", "log-format", "shutdown-timeout"} {
		_, _ = fmt.Fprintf(w, "  -%-18s %s\n", name, flagEnv[name])
	}
	_, _ = fmt.Fprintf(w, "\nExample:\n  CERTMGR_STORE_BACKEND=memory %s -log-format=text -log-level=debug\n", appName)
}
