package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const usage = `usage: zigbee-descriptors [-config config.yaml] <command> [args]

commands:
  list              print registered descriptors
  check <file>...   load and validate descriptor files
  simulate          pair the virtual devices from config against the simulator
  serve             run the simulator behind the HTTP API until interrupted
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("zigbee-descriptors", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return 1
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := fs.Arg(0); cmd {
	case "list":
		_, reg, err := loadRegistries(cfg, logger)
		if err == nil {
			err = runList(os.Stdout, reg)
		}
		if err != nil {
			logger.Error("list", "err", err)
			return 1
		}
	case "check":
		if err := runCheck(os.Stdout, fs.Args()[1:], logger); err != nil {
			logger.Error("check", "err", err)
			return 1
		}
	case "simulate":
		logger.Info("zigbee-descriptors simulate", "version", version, "devices", len(cfg.Simulate.Devices))
		if err := runSimulate(ctx, os.Stdout, cfg, logger); err != nil {
			if errors.Is(err, errPairingFailed) {
				logger.Warn("simulation finished with failures", "err", err)
			} else {
				logger.Error("simulate", "err", err)
			}
			return 1
		}
	case "serve":
		logger.Info("zigbee-descriptors serve", "version", version, "devices", len(cfg.Simulate.Devices))
		if err := runServe(ctx, cfg, logger); err != nil {
			logger.Error("serve", "err", err)
			return 1
		}
	case "version":
		fmt.Println(version)
	default:
		bootLogger.Error("unknown command", "command", cmd)
		fs.Usage()
		return 2
	}
	return 0
}
