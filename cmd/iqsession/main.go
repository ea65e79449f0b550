// Command iqsession runs the trading session client. It loads configuration,
// validates it, wires dependencies, sets up signal handling and starts the
// configured mode.
//
// Usage:
//
//	iqsession [-config config.toml]
//	iqsession encrypt-password -key <master-key> -out password.json
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/iqsession/internal/app"
	"github.com/alanyoungcy/iqsession/internal/config"
	"github.com/alanyoungcy/iqsession/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-password" {
		if err := encryptPassword(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-password: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("iqsession starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.String("host", cfg.Broker.Host),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("iqsession stopped")
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// encryptPassword reads the broker password from stdin and writes the
// encrypted blob for broker.encrypted_password_path.
func encryptPassword(args []string) error {
	fs := flag.NewFlagSet("encrypt-password", flag.ContinueOnError)
	key := fs.String("key", os.Getenv("IQSESSION_BROKER_PASSWORD_KEY"), "master key (defaults to IQSESSION_BROKER_PASSWORD_KEY)")
	out := fs.String("out", "password.json", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("a master key is required")
	}

	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	blob, err := crypto.EncryptSecret(password, *key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return nil
}
