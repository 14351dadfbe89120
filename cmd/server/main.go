package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/server"
)

func main() {
	memory := flag.Bool("memory", false, "keep messages in memory instead of Postgres")
	debug := flag.Bool("debug", false, "debug logging with console output")
	flag.Parse()

	cfg := server.NewConfigFromEnv().Sanitize()
	if *debug {
		cfg.LogLevel = "debug"
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.LogLevel, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, *memory, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped with error", "error", err)
		os.Exit(1)
	}
}
