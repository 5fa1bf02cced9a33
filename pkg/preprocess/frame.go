package preprocess

import (
	"encoding/base64"
	"fmt"

	"gocv.io/x/gocv"
)

// Decode decodes PNG or JPEG bytes into an RGB frame.
// The caller must Close the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: no image data", ErrInvalidFrame)
	}

	bgr, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode image: %w", err)
	}
	defer bgr.Close()

	if bgr.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: undecodable image", ErrInvalidFrame)
	}

	// OpenCV decodes to BGR; the pipeline expects RGB like the camera feed.
	rgb := gocv.NewMat()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return rgb, nil
}

// DecodeBase64 decodes a base64 encoded PNG or JPEG into an RGB frame.
func DecodeBase64(s string) (gocv.Mat, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode base64: %w", err)
	}
	return Decode(data)
}

// DecodeFile reads an image from disk into an RGB frame.
func DecodeFile(path string) (gocv.Mat, error) {
	bgr := gocv.IMRead(path, gocv.IMReadColor)
	if bgr.Empty() {
		bgr.Close()
		return gocv.NewMat(), fmt.Errorf("%w: cannot read %s", ErrInvalidFrame, path)
	}
	defer bgr.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return rgb, nil
}

// Process decodes image bytes and runs the pipeline in one step.
func Process(data []byte) (*Tensor, error) {
	frame, err := Decode(data)
	defer frame.Close()
	if err != nil {
		return nil, err
	}
	return Preprocess(frame)
}
