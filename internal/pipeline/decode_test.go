package pipeline

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"testing"
)

func TestDecode_LayoutPerSource(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 7, 5))
	gray16 := image.NewGray16(image.Rect(0, 0, 7, 5))
	rgb16 := image.NewRGBA64(image.Rect(0, 0, 7, 5))
	nrgba := image.NewNRGBA(image.Rect(0, 0, 7, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(x * 30)})
			gray16.SetGray16(x, y, color.Gray16{Y: uint16(x*9000 + y)})
			rgb16.SetRGBA64(x, y, color.RGBA64{R: uint16(x * 9000), G: 0x1234, B: uint16(y), A: 0xFFFF})
			nrgba.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: uint8(x * 40)})
		}
	}

	cases := []struct {
		name   string
		data   []byte
		format Format
		layout Layout
		depth  int
	}{
		{"png gray", encodeFixture(t, gray, FormatPNG), FormatPNG, LayoutGray, 1},
		{"png gray16", encodeFixture(t, gray16, FormatPNG), FormatPNG, LayoutGray, 2},
		{"png rgb16", encodeFixture(t, rgb16, FormatPNG), FormatPNG, LayoutRGB, 2},
		{"png alpha", encodeFixture(t, nrgba, FormatPNG), FormatPNG, LayoutRGBA, 1},
		{"png opaque", buildTestPNG(t, 7, 5), FormatPNG, LayoutRGB, 1},
		{"jpeg", buildTestJPEG(t, 7, 5), FormatJPEG, LayoutRGB, 1},
		{"jpeg gray", encodeFixture(t, gray, FormatJPEG), FormatJPEG, LayoutGray, 1},
		{"gif", encodeFixture(t, gradientImage(7, 5), FormatGIF), FormatGIF, LayoutRGB, 1},
		{"bmp", encodeFixture(t, gradientImage(7, 5), FormatBMP), FormatBMP, LayoutRGB, 1},
	}

	for _, tc := range cases {
		buf, err := Decode(tc.data, tc.format, DefaultLimits())
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if buf.Width != 7 || buf.Height != 5 {
			t.Fatalf("%s: expected 7x5, got %dx%d", tc.name, buf.Width, buf.Height)
		}
		if buf.Layout != tc.layout || buf.Depth != tc.depth {
			t.Fatalf("%s: expected %s/%d, got %s/%d", tc.name, tc.layout, tc.depth, buf.Layout, buf.Depth)
		}
		if err := buf.Validate(DefaultLimits()); err != nil {
			t.Fatalf("%s: invalid buffer: %v", tc.name, err)
		}
	}
}

func TestDecode_KeepsPixelValues(t *testing.T) {
	src := gradientImage(9, 4)
	buf, err := Decode(encodeFixture(t, src, FormatPNG), FormatPNG, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	for y := 0; y < 4; y++ {
		for x := 0; x < 9; x++ {
			want := src.RGBAAt(x, y)
			i := (y*9 + x) * 3
			got := buf.Pix[i : i+3]
			if got[0] != want.R || got[1] != want.G || got[2] != want.B {
				t.Fatalf("pixel %d,%d: expected %v, got %v", x, y, want, got)
			}
		}
	}
}

func TestDecode_DimensionGuard(t *testing.T) {
	_, err := Decode(buildTestPNG(t, 300, 10), FormatPNG, Limits{MaxDimension: 100, MaxPixels: 1_000_000})
	assertKind(t, err, KindDimensionTooLarge)

	_, err = Decode(buildTestPNG(t, 50, 50), FormatPNG, Limits{MaxDimension: 100, MaxPixels: 1000})
	assertKind(t, err, KindDimensionTooLarge)

	// The header alone claims 100000x100000; no pixel data follows.
	_, err = Decode(pngHeaderOnly(100_000, 100_000), FormatPNG, DefaultLimits())
	assertKind(t, err, KindDimensionTooLarge)
}

func TestDecode_CorruptPayloads(t *testing.T) {
	png := buildTestPNG(t, 12, 12)
	flipped := bytes.Clone(png)
	flipped[len(flipped)/2] ^= 0xFF

	cases := map[string]struct {
		data   []byte
		format Format
	}{
		"png bad crc":        {flipped, FormatPNG},
		"png signature only": {signaturePNG, FormatPNG},
		"jpeg soi only":      {[]byte{0xFF, 0xD8, 0xFF}, FormatJPEG},
		"gif header only":    {[]byte("GIF89a"), FormatGIF},
		"bmp magic only":     {[]byte("BM"), FormatBMP},
		"webp header only":   {[]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), FormatWebP},
	}

	for name, tc := range cases {
		_, err := Decode(tc.data, tc.format, DefaultLimits())
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		assertKind(t, err, KindCorruptInput)
	}
}

func TestDecode_TruncatedPNG(t *testing.T) {
	data := buildTestPNG(t, 16, 9)
	for n := len(signaturePNG); n < len(data); n++ {
		_, err := Decode(data[:n], FormatPNG, DefaultLimits())
		if err == nil {
			t.Fatalf("expected error for png truncated to %d of %d bytes", n, len(data))
		}
		assertKind(t, err, KindCorruptInput)
	}
}

func TestDecode_TruncatedBMP(t *testing.T) {
	data := encodeFixture(t, gradientImage(5, 3), FormatBMP)
	for n := len(signatureBMP); n < len(data); n++ {
		_, err := Decode(data[:n], FormatBMP, DefaultLimits())
		if err == nil {
			t.Fatalf("expected error for bmp truncated to %d of %d bytes", n, len(data))
		}
		assertKind(t, err, KindCorruptInput)
	}
}

func TestDecode_TruncatedGIF(t *testing.T) {
	data := encodeFixture(t, gradientImage(10, 6), FormatGIF)
	for n := len(signatureGIF89); n < len(data); n++ {
		if data[n-1] == gifTrailer {
			// A cut that happens to end on the trailer byte inside the
			// image data is caught by the LZW reader instead, if at all.
			continue
		}
		_, err := Decode(data[:n], FormatGIF, DefaultLimits())
		if err == nil {
			t.Fatalf("expected error for gif truncated to %d of %d bytes", n, len(data))
		}
		assertKind(t, err, KindCorruptInput)
	}
}

func TestDecode_TruncatedJPEG(t *testing.T) {
	for _, size := range [][2]int{{1, 1}, {16, 16}, {64, 48}} {
		data := buildTestJPEG(t, size[0], size[1])
		for n := len(signatureJPEG); n < len(data); n++ {
			_, err := Decode(data[:n], FormatJPEG, DefaultLimits())
			if err == nil {
				t.Fatalf("expected error for %dx%d jpeg truncated to %d of %d bytes", size[0], size[1], n, len(data))
			}
			assertKind(t, err, KindCorruptInput)
		}
	}
}

func TestDecode_LosslessWebP(t *testing.T) {
	buf, err := Decode(losslessWebP, FormatWebP, DefaultLimits())
	if err != nil {
		t.Fatalf("decode webp: %v", err)
	}
	if buf.Width != 75 || buf.Height != 100 || buf.Depth != 1 {
		t.Fatalf("expected 75x100 8-bit buffer, got %dx%d depth %d", buf.Width, buf.Height, buf.Depth)
	}
	if err := buf.Validate(DefaultLimits()); err != nil {
		t.Fatalf("decoded buffer invalid: %v", err)
	}

	out, err := Resample(buf, ResizeOptions{Width: 40, Height: 40, Fit: FitCover})
	if err != nil {
		t.Fatalf("resample webp: %v", err)
	}
	if out.Width != 40 || out.Height != 40 {
		t.Fatalf("expected 40x40, got %dx%d", out.Width, out.Height)
	}
}

func TestDecode_TruncatedWebP(t *testing.T) {
	for n := len(signatureRIFF); n < len(losslessWebP); n++ {
		_, err := Decode(losslessWebP[:n], FormatWebP, DefaultLimits())
		if err == nil {
			t.Fatalf("expected error for webp truncated to %d of %d bytes", n, len(losslessWebP))
		}
		assertKind(t, err, KindCorruptInput)
	}
}

func TestDecode_WebPLimitsBeforePixels(t *testing.T) {
	_, err := Decode(losslessWebP, FormatWebP, Limits{MaxDimension: 80, MaxPixels: 1000})
	assertKind(t, err, KindDimensionTooLarge)
}

func TestDecode_GIFFirstFrameOnScreen(t *testing.T) {
	pal := color.Palette{color.RGBA{R: 255, A: 255}, color.RGBA{B: 255, A: 255}}
	first := image.NewPaletted(image.Rect(2, 2, 6, 6), pal)
	second := image.NewPaletted(image.Rect(0, 0, 10, 8), pal)
	for i := range second.Pix {
		second.Pix[i] = 1
	}

	var out bytes.Buffer
	err := gif.EncodeAll(&out, &gif.GIF{
		Image:  []*image.Paletted{first, second},
		Delay:  []int{10, 10},
		Config: image.Config{ColorModel: pal, Width: 10, Height: 8},
	})
	if err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	buf, err := Decode(out.Bytes(), FormatGIF, DefaultLimits())
	if err != nil {
		t.Fatalf("decode gif: %v", err)
	}
	if buf.Width != 10 || buf.Height != 8 || buf.Layout != LayoutRGBA {
		t.Fatalf("expected 10x8 rgba canvas, got %dx%d %s", buf.Width, buf.Height, buf.Layout)
	}

	at := func(x, y int) []byte {
		i := (y*10 + x) * 4
		return buf.Pix[i : i+4]
	}
	if px := at(0, 0); px[3] != 0 {
		t.Fatalf("expected transparent pixel outside the first frame, got %v", px)
	}
	if px := at(3, 3); px[0] != 255 || px[2] != 0 || px[3] != 255 {
		t.Fatalf("expected opaque red inside the first frame, got %v", px)
	}
}

func TestDecode_GIFMissingTrailer(t *testing.T) {
	data := encodeFixture(t, gradientImage(4, 4), FormatGIF)
	_, err := Decode(data[:len(data)-1], FormatGIF, DefaultLimits())
	assertKind(t, err, KindCorruptInput)
}

func pngHeaderOnly(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor

	var out bytes.Buffer
	out.Write(signaturePNG)
	binary.Write(&out, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	out.Write(chunk)
	binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return out.Bytes()
}
