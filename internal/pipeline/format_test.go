package pipeline

import (
	"errors"
	"image"
	"testing"
)

func TestDetect_KnownSignatures(t *testing.T) {
	img := gradientImage(4, 3)
	cases := map[Format][]byte{
		FormatPNG:  encodeFixture(t, img, FormatPNG),
		FormatJPEG: encodeFixture(t, img, FormatJPEG),
		FormatGIF:  encodeFixture(t, img, FormatGIF),
		FormatBMP:  encodeFixture(t, img, FormatBMP),
		FormatWebP: []byte("RIFF\x24\x00\x00\x00WEBPVP8 "),
	}

	for want, data := range cases {
		got, err := Detect(data)
		if err != nil {
			t.Fatalf("detect %s: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestDetect_Unsupported(t *testing.T) {
	cases := map[string][]byte{
		"empty":         nil,
		"single byte":   {0x89},
		"text":          []byte("hello, world"),
		"riff not webp": []byte("RIFF\x00\x00\x00\x00WAVEfmt "),
		"short riff":    []byte("RIFF\x00\x00"),
		"tiff":          {'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00},
	}

	for name, data := range cases {
		_, err := Detect(data)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("%s: expected unsupported format, got %v", name, err)
		}
	}
}

func TestDetect_IgnoresTrailingBytes(t *testing.T) {
	data := append(encodeFixture(t, image.NewGray(image.Rect(0, 0, 2, 2)), FormatPNG), "garbage"...)
	got, err := Detect(data)
	if err != nil || got != FormatPNG {
		t.Fatalf("expected png, got %s (%v)", got, err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"png":   FormatPNG,
		"JPEG":  FormatJPEG,
		"jpg":   FormatJPEG,
		" gif ": FormatGIF,
		"bmp":   FormatBMP,
		"webp":  FormatWebP,
	}
	for name, want := range cases {
		got, err := ParseFormat(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", name, want, got)
		}
	}

	if _, err := ParseFormat("tiff"); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters for tiff, got %v", err)
	}
}
