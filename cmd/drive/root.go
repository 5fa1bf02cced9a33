package main

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-drive/internal/config"
	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/model"
)

var version = "dev"

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "drive",
	Short: "Steering model server for the driving simulator",
	Long: `drive serves a trained steering model to the driving simulator.

The simulator streams telemetry (speed and a camera frame) over Socket.IO;
every frame is answered with a steering angle predicted by the model and a
throttle derived from the current speed.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// addModelFlags registers the flags shared by commands that load a model.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", config.DefaultModelPath, "Model artifact (.onnx or .pb)")
	cmd.Flags().String("model-url", "", "TF-Serving predict URL (selects the remote backend)")
	cmd.Flags().String("layout", "nhwc", "Model input layout: nhwc or nchw")
	cmd.Flags().Float64("speed-limit", config.DefaultSpeedLimit, "Speed at which throttle reaches zero")
}

// loadConfig resolves the configuration: defaults, --config file,
// environment, then flags explicitly set on cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("model") {
		cfg.Model.Path, _ = flags.GetString("model")
		cfg.Model.Backend = config.BackendFile
	}
	if flags.Changed("model-url") {
		cfg.Model.URL, _ = flags.GetString("model-url")
		cfg.Model.Backend = config.BackendRemote
	}
	if flags.Changed("layout") {
		cfg.Model.Layout, _ = flags.GetString("layout")
	}
	if flags.Changed("speed-limit") {
		cfg.Control.SpeedLimit, _ = flags.GetFloat64("speed-limit")
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func initLogging(cfg config.Config) {
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func modelConfig(cfg config.Config) model.Config {
	return model.Config{
		Backend: cfg.Model.Backend,
		Path:    cfg.Model.Path,
		URL:     cfg.Model.URL,
		Layout:  model.Layout(cfg.Model.Layout),
	}
}
