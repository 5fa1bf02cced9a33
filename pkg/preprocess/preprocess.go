// Package preprocess turns simulator camera frames into the normalized
// tensor the steering model was trained on.
//
// The pipeline is fixed and order matters:
//
//	crop rows [60,135) -> RGB to YUV -> 3x3 Gaussian blur -> resize 200x66 -> /255
//
// The crop band is tied to the simulator's camera geometry (it removes the
// sky and the car hood) and is deliberately not configurable.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Fixed pipeline constants.
const (
	CropTop    = 60  // first row kept
	CropBottom = 135 // first row dropped

	OutputWidth  = 200
	OutputHeight = 66
	Channels     = 3

	BlurKernel = 3
)

// ErrInvalidFrame is returned when a frame violates the pipeline's
// preconditions (empty, wrong channel count, too short to crop).
var ErrInvalidFrame = errors.New("preprocess: invalid frame")

// Preprocess runs the fixed pipeline on an RGB frame. The frame is not
// modified; the caller keeps ownership of it.
func Preprocess(frame gocv.Mat) (*Tensor, error) {
	if err := validate(frame); err != nil {
		return nil, err
	}

	// Crop away sky and hood. Region shares memory with frame.
	roi := frame.Region(image.Rect(0, CropTop, frame.Cols(), CropBottom))
	defer roi.Close()

	yuv := gocv.NewMat()
	defer yuv.Close()
	gocv.CvtColor(roi, &yuv, gocv.ColorRGBToYUV)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(yuv, &blurred, image.Pt(BlurKernel, BlurKernel), 0, 0, gocv.BorderDefault)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(blurred, &resized, image.Pt(OutputWidth, OutputHeight), 0, 0, gocv.InterpolationLinear)

	if resized.Rows() != OutputHeight || resized.Cols() != OutputWidth || resized.Channels() != Channels {
		return nil, fmt.Errorf("preprocess: unexpected resize output %dx%dx%d",
			resized.Cols(), resized.Rows(), resized.Channels())
	}

	return normalize(resized.ToBytes()), nil
}

// normalize scales 8-bit HWC pixels to [0,1].
func normalize(pix []byte) *Tensor {
	t := NewTensor()
	for i, v := range pix {
		t.Data[i] = float32(v) / 255
	}
	return t
}

func validate(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("%w: empty", ErrInvalidFrame)
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: want 8-bit %d-channel image, got %d channels (type %v)",
			ErrInvalidFrame, Channels, frame.Channels(), frame.Type())
	}
	if frame.Rows() < CropBottom {
		return fmt.Errorf("%w: height %d is below crop bottom %d", ErrInvalidFrame, frame.Rows(), CropBottom)
	}
	return nil
}
