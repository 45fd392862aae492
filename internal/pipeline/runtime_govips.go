//go:build govips && cgo

package pipeline

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   0,
			MaxCacheSize:  0,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// OutputFormats lists every format Encode can produce in this build.
func OutputFormats() []Format {
	return []Format{FormatPNG, FormatJPEG, FormatGIF, FormatBMP, FormatWebP}
}

// encodeWebP hands a lossless PNG of buf to libvips, which has the only
// WEBP encoder available to Go.
func encodeWebP(buf *Buffer, quality int) ([]byte, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	staged, err := encodePNG(narrow(buf), nil)
	if err != nil {
		return nil, fmt.Errorf("stage png: %w", err)
	}

	img, err := vips.NewImageFromBuffer(staged)
	if err != nil {
		return nil, fmt.Errorf("load staged image: %w", err)
	}
	defer img.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	params.StripMetadata = true
	data, _, err := img.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("export webp: %w", err)
	}
	return data, nil
}
