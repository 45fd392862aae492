package pipeline

import (
	"bytes"
	_ "embed"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

// losslessWebP is a 75x100 VP8L image from the golang.org/x/image test corpus.
//
//go:embed testdata/gopher.lossless.webp
var losslessWebP []byte

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	return encodeFixture(t, gradientImage(w, h), FormatPNG)
}

func buildTestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	return encodeFixture(t, gradientImage(w, h), FormatJPEG)
}

func encodeFixture(t testing.TB, img image.Image, format Format) []byte {
	t.Helper()

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	default:
		t.Fatalf("no fixture encoder for %s", format)
	}
	if err != nil {
		t.Fatalf("encode %s fixture: %v", format, err)
	}
	return buf.Bytes()
}

// testBuffer fills a buffer with a deterministic pattern. RGBA buffers get
// a mix of opaque, translucent and transparent pixels.
func testBuffer(t testing.TB, w, h int, layout Layout, depth int) *Buffer {
	t.Helper()

	buf, err := NewBuffer(w, h, layout, depth, DefaultLimits())
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	ch := layout.Channels()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * ch
			for c := 0; c < ch; c++ {
				v := int32((x*37 + y*61 + c*89) % 256)
				if depth == 2 {
					v = v<<8 | int32((x*13+c)%256)
				}
				if layout == LayoutRGBA && c == 3 {
					switch (x + y) % 3 {
					case 0:
						v = buf.maxSample()
					case 1:
						v = buf.maxSample() / 2
					default:
						v = 0
					}
				}
				buf.setSample(base+c, v)
			}
		}
	}
	return buf
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := AsError(err).Kind; got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}
