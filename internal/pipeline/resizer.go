package pipeline

// Resizer scales a source image to the target width, preserving aspect
// ratio, and re-encodes the output as JPEG at fixed quality 90 regardless
// of the source format. The backend is selected at build time.
type Resizer interface {
	Resize(data []byte, targetWidth int) ([]byte, error)
}
