package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-drive/pkg/preprocess"
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <image>",
	Short: "Run the preprocessing pipeline on one frame",
	Long: `Crops, converts to YUV, blurs and resizes a PNG or JPEG frame exactly as
the server does before inference, and prints the tensor shape and range.
With --output the normalized tensor is written back as an 8-bit YUV image.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreprocess,
}

func init() {
	preprocessCmd.Flags().StringP("output", "o", "", "Write the preprocessed frame to this image file")
	rootCmd.AddCommand(preprocessCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	frame, err := preprocess.DecodeFile(args[0])
	defer frame.Close()
	if err != nil {
		return err
	}

	tensor, err := preprocess.Preprocess(frame)
	if err != nil {
		return err
	}

	lo, hi := tensor.Range()
	cmd.Printf("input   %dx%d\n", frame.Cols(), frame.Rows())
	cmd.Printf("shape   %v\n", tensor.Shape())
	cmd.Printf("range   [%.4f, %.4f]\n", lo, hi)

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return nil
	}

	img, err := tensor.Image()
	if err != nil {
		return fmt.Errorf("render tensor: %w", err)
	}
	defer img.Close()

	if !gocv.IMWrite(out, img) {
		return fmt.Errorf("write %s failed", out)
	}
	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	cmd.Printf("wrote   %s (%s)\n", out, humanize.Bytes(uint64(info.Size())))
	return nil
}
