package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
)

const DefaultQuality = 80

type EncodeOptions struct {
	Format Format
	// Quality applies to lossy encoders. Zero selects DefaultQuality.
	Quality int
	// Text is written as PNG tEXt chunks and ignored by other formats.
	Text []TextChunk
}

// Encode serializes buf. Identical inputs produce identical bytes.
func Encode(buf *Buffer, opts EncodeOptions) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s encoder panicked: %v", ErrEncodeFailure, opts.Format, r)
		}
	}()

	if buf == nil {
		return nil, fmt.Errorf("%w: buffer is nil", ErrEncodeFailure)
	}
	if err := buf.checkPayload(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}

	switch opts.Format {
	case FormatPNG:
		out, err = encodePNG(buf, opts.Text)
	case FormatJPEG:
		out, err = encodeJPEG(buf, qualityOrDefault(opts.Quality))
	case FormatGIF:
		out, err = encodeGIF(buf)
	case FormatBMP:
		out, err = encodeBMP(buf)
	case FormatWebP:
		out, err = encodeWebP(buf, qualityOrDefault(opts.Quality))
	default:
		return nil, fmt.Errorf("%w: no encoder for %s", ErrEncodeFailure, opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrEncodeFailure, opts.Format, err)
	}
	return out, nil
}

func qualityOrDefault(q int) int {
	if q <= 0 {
		return DefaultQuality
	}
	return clamp(q, 1, 100)
}

func encodePNG(buf *Buffer, text []TextChunk) ([]byte, error) {
	var out bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&out, toImage(buf)); err != nil {
		return nil, err
	}
	if len(text) == 0 {
		return out.Bytes(), nil
	}
	return insertTextChunks(out.Bytes(), text)
}

func encodeJPEG(buf *Buffer, quality int) ([]byte, error) {
	b := narrow(buf)

	var img image.Image
	switch b.Layout {
	case LayoutGray:
		img = toImage(b)
	case LayoutRGB:
		img = toImage(b)
	default:
		img = flatten(b)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func encodeGIF(buf *Buffer) ([]byte, error) {
	b := narrow(buf)
	bounds := image.Rect(0, 0, b.Width, b.Height)

	var dst *image.Paletted
	if b.Layout == LayoutGray {
		dst = image.NewPaletted(bounds, grayPalette())
		copy(dst.Pix, b.Pix)
	} else {
		dst = palettize(b)
	}

	var out bytes.Buffer
	if err := gif.Encode(&out, dst, &gif.Options{NumColors: len(dst.Palette)}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

const transparentIndex = 216

// palettize reduces color to the web-safe palette with Floyd–Steinberg
// dithering. Pixels under half alpha map to a transparent entry.
func palettize(b *Buffer) *image.Paletted {
	bounds := image.Rect(0, 0, b.Width, b.Height)
	pal := color.Palette(append([]color.Color(nil), palette.WebSafe...))

	opaque := image.NewRGBA(bounds)
	ch := b.Layout.Channels()
	hasTransparency := false
	for i, o := 0, 0; i < len(b.Pix); i, o = i+ch, o+4 {
		copy(opaque.Pix[o:o+3], b.Pix[i:i+3])
		opaque.Pix[o+3] = 0xFF
		if ch == 4 && b.Pix[i+3] < 0x80 {
			hasTransparency = true
		}
	}
	if hasTransparency {
		pal = append(pal, color.RGBA{})
	}

	dst := image.NewPaletted(bounds, pal)
	draw.FloydSteinberg.Draw(dst, bounds, opaque, image.Point{})
	if hasTransparency {
		for p := 0; p < b.Width*b.Height; p++ {
			if b.Pix[p*4+3] < 0x80 {
				dst.Pix[p] = transparentIndex
			}
		}
	}
	return dst
}

func grayPalette() color.Palette {
	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = color.Gray{Y: uint8(i)}
	}
	return pal
}

func encodeBMP(buf *Buffer) ([]byte, error) {
	var out bytes.Buffer
	if err := bmp.Encode(&out, toImage(narrow(buf))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// toImage wraps buf in the matching image type. 8-bit color is exposed as
// NRGBA so straight alpha is preserved and opaque data stays opaque.
func toImage(buf *Buffer) image.Image {
	bounds := image.Rect(0, 0, buf.Width, buf.Height)
	switch {
	case buf.Layout == LayoutGray && buf.Depth == 1:
		return &image.Gray{Pix: buf.Pix, Stride: buf.Stride(), Rect: bounds}
	case buf.Layout == LayoutGray:
		return &image.Gray16{Pix: buf.Pix, Stride: buf.Stride(), Rect: bounds}
	case buf.Layout == LayoutRGBA && buf.Depth == 1:
		return &image.NRGBA{Pix: buf.Pix, Stride: buf.Stride(), Rect: bounds}
	case buf.Layout == LayoutRGBA:
		return &image.NRGBA64{Pix: buf.Pix, Stride: buf.Stride(), Rect: bounds}
	case buf.Depth == 1:
		img := image.NewNRGBA(bounds)
		expandRGB(img.Pix, buf.Pix, 1)
		return img
	default:
		img := image.NewNRGBA64(bounds)
		expandRGB(img.Pix, buf.Pix, 2)
		return img
	}
}

// expandRGB copies interleaved RGB samples into an RGBA plane with full alpha.
func expandRGB(dst, src []byte, depth int) {
	px := 3 * depth
	for i, o := 0, 0; i < len(src); i, o = i+px, o+px+depth {
		copy(dst[o:o+px], src[i:i+px])
		for d := 0; d < depth; d++ {
			dst[o+px+d] = 0xFF
		}
	}
}

// narrow rounds 16-bit samples to 8 bits. 8-bit buffers are returned as is.
func narrow(buf *Buffer) *Buffer {
	if buf.Depth == 1 {
		return buf
	}
	out := &Buffer{Width: buf.Width, Height: buf.Height, Layout: buf.Layout, Depth: 1, Pix: make([]byte, len(buf.Pix)/2)}
	for i := range out.Pix {
		v := uint32(buf.Pix[2*i])<<8 | uint32(buf.Pix[2*i+1])
		out.Pix[i] = uint8((v + 128) / 257)
	}
	return out
}

// flatten composites 8-bit RGBA onto white.
func flatten(buf *Buffer) *image.RGBA {
	bounds := image.Rect(0, 0, buf.Width, buf.Height)
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, toImage(buf), image.Point{}, draw.Over)
	return dst
}
