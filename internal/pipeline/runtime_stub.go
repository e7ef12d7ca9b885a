//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newResizer() (Resizer, error) {
	return imagingResizer{}, nil
}
