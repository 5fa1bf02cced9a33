package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/autopilot"
	"github.com/teslashibe/go-drive/pkg/model"
	"github.com/teslashibe/go-drive/pkg/preprocess"
)

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Predict the command for one frame offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().Float64("speed", 0, "Current speed used for the throttle")
	addModelFlags(predictCmd)
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	predictor, err := model.Load(modelConfig(cfg))
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer predictor.Close()

	frame, err := preprocess.DecodeFile(args[0])
	defer frame.Close()
	if err != nil {
		return err
	}

	speed, _ := cmd.Flags().GetFloat64("speed")
	handler := autopilot.NewHandler(autopilot.Config{SpeedLimit: cfg.Control.SpeedLimit}, predictor, log.L())

	command, err := handler.Step(cmd.Context(), frame, speed)
	if err != nil {
		return err
	}

	cmd.Printf("steering_angle %.4f\n", command.SteeringAngle)
	cmd.Printf("throttle       %.4f\n", command.Throttle)

	wire, err := json.Marshal(command.Wire())
	if err != nil {
		return err
	}
	cmd.Printf("steer          %s\n", wire)
	return nil
}
