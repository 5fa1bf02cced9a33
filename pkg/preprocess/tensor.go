package preprocess

import (
	"encoding/binary"
	"math"
	"runtime"

	"gocv.io/x/gocv"
)

// Tensor is a single normalized frame, batch size 1, stored row-major in
// height-width-channel order with YUV channels in [0,1].
type Tensor struct {
	Data []float32
}

// NewTensor allocates a zeroed tensor of the model input shape.
func NewTensor() *Tensor {
	return &Tensor{Data: make([]float32, OutputHeight*OutputWidth*Channels)}
}

// Shape returns the NHWC shape (1, 66, 200, 3).
func (t *Tensor) Shape() [4]int {
	return [4]int{1, OutputHeight, OutputWidth, Channels}
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*OutputWidth+x)*Channels+c]
}

// Range returns the smallest and largest values.
func (t *Tensor) Range() (min, max float32) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	min, max = t.Data[0], t.Data[0]
	for _, v := range t.Data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Equal reports whether both tensors hold bit-identical values.
func (t *Tensor) Equal(o *Tensor) bool {
	if len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Data {
		if math.Float32bits(t.Data[i]) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// Bytes encodes the tensor as little-endian float32 in NHWC order.
func (t *Tensor) Bytes() []byte {
	out := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// PlanarBytes encodes the tensor as little-endian float32 in NCHW order.
func (t *Tensor) PlanarBytes() []byte {
	const plane = OutputHeight * OutputWidth
	out := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		c := i % Channels
		p := i / Channels
		binary.LittleEndian.PutUint32(out[(c*plane+p)*4:], math.Float32bits(v))
	}
	return out
}

// Nested returns the tensor as [height][width][channel] slices, the
// per-instance layout JSON model servers expect.
func (t *Tensor) Nested() [][][]float32 {
	rows := make([][][]float32, OutputHeight)
	for y := range rows {
		rows[y] = make([][]float32, OutputWidth)
		for x := range rows[y] {
			i := (y*OutputWidth + x) * Channels
			rows[y][x] = t.Data[i : i+Channels : i+Channels]
		}
	}
	return rows
}

// Image renders the tensor back to an 8-bit, 3-channel YUV Mat for
// inspection. The caller must Close the result.
func (t *Tensor) Image() (gocv.Mat, error) {
	pix := make([]byte, len(t.Data))
	for i, v := range t.Data {
		pix[i] = uint8(math.Round(float64(v) * 255))
	}
	view, err := gocv.NewMatFromBytes(OutputHeight, OutputWidth, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()

	// view borrows pix; hand back an owned copy.
	out := view.Clone()
	runtime.KeepAlive(pix)
	return out, nil
}
