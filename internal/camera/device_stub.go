//go:build !gocv

package camera

// Device is unavailable without the gocv build tag.
type Device struct{}

// Open always fails with ErrUnavailable.
func Open(index int) (*Device, error) {
	return nil, ErrUnavailable
}

func (d *Device) Capture() ([]byte, error) { return nil, ErrUnavailable }

func (d *Device) Opened() bool { return false }

func (d *Device) Close() error { return nil }
