// Package video provides recorded camera frames for replaying a drive.
//
// A Source yields encoded images one at a time, either from a directory of
// PNG/JPEG files (as recorded by the simulator) or decoded from a video file.
package video

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

// ErrNoFrames is returned when a source holds nothing to replay.
var ErrNoFrames = errors.New("video: no frames")

// Source yields encoded frames in order. Next returns io.EOF after the
// last frame.
type Source interface {
	Next() (frame []byte, name string, err error)
	Close() error
}

// Open returns a DirSource for a directory and a CaptureSource for any
// other file.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return NewDirSource(path)
	}
	return NewCaptureSource(path)
}

// ListFrames returns the .png/.jpg/.jpeg files in dir sorted by name.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

// DirSource reads image files from a directory.
type DirSource struct {
	frames []string
	next   int
}

// NewDirSource lists the frames in dir.
func NewDirSource(dir string) (*DirSource, error) {
	frames, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	return &DirSource{frames: frames}, nil
}

// Len returns the number of frames.
func (s *DirSource) Len() int {
	return len(s.frames)
}

// Next implements Source.
func (s *DirSource) Next() ([]byte, string, error) {
	if s.next >= len(s.frames) {
		return nil, "", io.EOF
	}
	path := s.frames[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, filepath.Base(path), nil
}

// Close implements Source.
func (s *DirSource) Close() error {
	return nil
}

// CaptureSource decodes a video file with OpenCV and re-encodes every
// frame as PNG, the format the simulator sends.
type CaptureSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	base    string
	n       int
}

// NewCaptureSource opens a video file.
func NewCaptureSource(path string) (*CaptureSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("video: open %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video: cannot open %s", path)
	}
	return &CaptureSource{
		capture: capture,
		mat:     gocv.NewMat(),
		base:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}, nil
}

// Next implements Source.
func (s *CaptureSource) Next() ([]byte, string, error) {
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		if s.n == 0 {
			return nil, "", ErrNoFrames
		}
		return nil, "", io.EOF
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, s.mat)
	if err != nil {
		return nil, "", fmt.Errorf("video: encode frame %d: %w", s.n, err)
	}
	defer buf.Close()

	name := fmt.Sprintf("%s#%05d", s.base, s.n)
	s.n++
	return bytes.Clone(buf.GetBytes()), name, nil
}

// Close releases the capture.
func (s *CaptureSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}
