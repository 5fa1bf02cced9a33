package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-drive/internal/config"
	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/autopilot"
	"github.com/teslashibe/go-drive/pkg/model"
	"github.com/teslashibe/go-drive/pkg/session"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the steering model to the simulator",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", config.DefaultPort, "Listen port")
	addModelFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)
	logger := log.With("component", "drive")

	predictor, err := model.Load(modelConfig(cfg))
	if err != nil {
		logger.Error("model load failed", "backend", cfg.Model.Backend, "path", cfg.Model.Path, "error", err)
		return fmt.Errorf("load model: %w", err)
	}
	defer predictor.Close()
	logModel(predictor)

	handler := autopilot.NewHandler(autopilot.Config{SpeedLimit: cfg.Control.SpeedLimit}, predictor, log.L())
	hub := session.NewHub(handler.Routes(), session.Config{Path: cfg.Server.Path}, log.L())
	app := newApp(hub, handler, debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	addr := cfg.Addr()
	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", addr,
			"socketio", fmt.Sprintf("ws://localhost:%d%s", cfg.Server.Port, cfg.Server.Path),
			"speed_limit", cfg.Control.SpeedLimit,
			"version", version)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		logger.Error("server error", "error", err)
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

func logModel(p model.Predictor) {
	switch m := p.(type) {
	case *model.NetModel:
		log.Info("model loaded", "path", m.Path(), "size", humanize.Bytes(uint64(m.Size())))
	case *model.RemoteModel:
		log.Info("remote model", "url", m.URL())
	}
}
