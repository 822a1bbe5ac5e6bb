//go:build gocv

package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Capture geometry and JPEG quality of frames served to the dashboard.
const (
	captureWidth  = 640
	captureHeight = 480
	frameWidth    = 320
	frameHeight   = 240
	jpegQuality   = 80
)

// Device is a V4L/USB camera opened through OpenCV.
type Device struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	img     gocv.Mat
	resized gocv.Mat
}

// Open opens the camera at index.
func Open(index int) (*Device, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("could not open camera at index %d", index)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, captureWidth)
	vc.Set(gocv.VideoCaptureFrameHeight, captureHeight)
	vc.Set(gocv.VideoCaptureFPS, 30)
	return &Device{vc: vc, img: gocv.NewMat(), resized: gocv.NewMat()}, nil
}

// Capture reads one frame, downsizes it and encodes it as JPEG.
func (d *Device) Capture() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok := d.vc.Read(&d.img); !ok || d.img.Empty() {
		return nil, ErrNoFrame
	}
	gocv.Resize(d.img, &d.resized, image.Point{X: frameWidth, Y: frameHeight}, 0, 0, gocv.InterpolationLinear)
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.resized, []int{int(gocv.IMWriteJpegQuality), jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Opened reports whether the device is still open.
func (d *Device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vc.IsOpened()
}

// Close releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.img.Close()
	d.resized.Close()
	return d.vc.Close()
}
