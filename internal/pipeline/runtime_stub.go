//go:build !govips || !cgo

package pipeline

import "errors"

var errWebPUnavailable = errors.New("webp encoding requires the govips build")

func Startup() error {
	return nil
}

func Shutdown() {}

// OutputFormats lists every format Encode can produce in this build.
func OutputFormats() []Format {
	return []Format{FormatPNG, FormatJPEG, FormatGIF, FormatBMP}
}

func encodeWebP(*Buffer, int) ([]byte, error) {
	return nil, errWebPUnavailable
}
