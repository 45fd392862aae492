package pipeline

import (
	"bytes"
	"fmt"
	"strings"
)

// Format tags an image container. The zero value is not a valid format.
type Format uint8

const (
	FormatPNG Format = iota + 1
	FormatJPEG
	FormatGIF
	FormatBMP
	FormatWebP
)

// InputFormats lists every container the detector recognizes.
var InputFormats = []Format{FormatPNG, FormatJPEG, FormatGIF, FormatBMP, FormatWebP}

var (
	signaturePNG   = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	signatureJPEG  = []byte{0xFF, 0xD8, 0xFF}
	signatureGIF87 = []byte("GIF87a")
	signatureGIF89 = []byte("GIF89a")
	signatureBMP   = []byte("BM")
	signatureRIFF  = []byte("RIFF")
	signatureWEBP  = []byte("WEBP")
)

const minSignatureLen = 2

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatWebP:
		return "webp"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat maps a request format name onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "webp":
		return FormatWebP, nil
	default:
		return 0, fmt.Errorf("%w: unknown output format %q", ErrInvalidParameters, name)
	}
}

// Detect classifies data by its leading magic bytes.
func Detect(data []byte) (Format, error) {
	if len(data) < minSignatureLen {
		return 0, fmt.Errorf("%w: input is %d bytes, shorter than any signature", ErrUnsupportedFormat, len(data))
	}

	switch {
	case bytes.HasPrefix(data, signaturePNG):
		return FormatPNG, nil
	case bytes.HasPrefix(data, signatureJPEG):
		return FormatJPEG, nil
	case bytes.HasPrefix(data, signatureGIF87), bytes.HasPrefix(data, signatureGIF89):
		return FormatGIF, nil
	case len(data) >= 12 && bytes.HasPrefix(data, signatureRIFF) && bytes.Equal(data[8:12], signatureWEBP):
		return FormatWebP, nil
	case bytes.HasPrefix(data, signatureBMP):
		return FormatBMP, nil
	}

	return 0, fmt.Errorf("%w: no known signature in header % x", ErrUnsupportedFormat, data[:min(len(data), 12)])
}
