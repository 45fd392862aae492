package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

const gifTrailer = 0x3B

var errMissingGIFTrailer = errors.New("missing gif trailer")

// Decode turns data of the given format into a Buffer. The declared
// dimensions are checked against limits before any pixel storage exists.
func Decode(data []byte, format Format, limits Limits) (buf *Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("%w: %s decoder panicked: %v", ErrCorruptInput, format, r)
		}
	}()

	cfg, err := decodeConfig(data, format)
	if err != nil {
		return nil, err
	}
	if err := limits.Check(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	var img image.Image
	switch format {
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case FormatGIF:
		img, err = decodeGIFFirstFrame(data, cfg)
	case FormatBMP:
		img, err = bmp.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorruptInput, format, err)
	}

	if b := img.Bounds(); b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		return nil, fmt.Errorf("%w: %s header declares %dx%d, pixels are %dx%d", ErrCorruptInput, format, cfg.Width, cfg.Height, b.Dx(), b.Dy())
	}

	return fromImage(img, limits)
}

func decodeConfig(data []byte, format Format) (image.Config, error) {
	var (
		cfg image.Config
		err error
	)
	r := bytes.NewReader(data)
	switch format {
	case FormatPNG:
		cfg, err = png.DecodeConfig(r)
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case FormatGIF:
		cfg, err = gif.DecodeConfig(r)
	case FormatBMP:
		cfg, err = bmp.DecodeConfig(r)
	case FormatWebP:
		if err = checkRIFFLength(data); err == nil {
			cfg, err = webp.DecodeConfig(r)
		}
	default:
		return image.Config{}, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: read %s header: %v", ErrCorruptInput, format, err)
	}
	return cfg, nil
}

// checkRIFFLength rejects containers shorter than their declared payload.
// The WebP decoders stop reading once the pixels are complete, so a cut in
// trailing padding would otherwise go unnoticed.
func checkRIFFLength(data []byte) error {
	if len(data) < 8 {
		return errors.New("riff header truncated")
	}
	declared := int64(binary.LittleEndian.Uint32(data[4:8]))
	if have := int64(len(data) - 8); declared > have {
		return fmt.Errorf("riff declares %d payload bytes, %d present", declared, have)
	}
	return nil
}

// decodeGIFFirstFrame composites the first frame onto the logical screen.
func decodeGIFFirstFrame(data []byte, cfg image.Config) (image.Image, error) {
	if len(data) == 0 || data[len(data)-1] != gifTrailer {
		return nil, errMissingGIFTrailer
	}

	frame, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	screen := image.Rect(0, 0, cfg.Width, cfg.Height)
	if frame.Bounds() == screen {
		return frame, nil
	}

	canvas := image.NewNRGBA(screen)
	draw.Draw(canvas, frame.Bounds().Intersect(screen), frame, frame.Bounds().Min, draw.Src)
	return canvas, nil
}

// fromImage copies a decoded image into a Buffer, keeping 16-bit precision
// and dropping the alpha channel of opaque sources.
func fromImage(img image.Image, limits Limits) (*Buffer, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	opaque := isOpaque(img)

	switch src := img.(type) {
	case *image.Gray:
		buf, err := NewBuffer(w, h, LayoutGray, 1, limits)
		if err != nil {
			return nil, err
		}
		packRows(buf, src.Pix, src.Stride, src.PixOffset(bounds.Min.X, bounds.Min.Y), 1)
		return buf, nil
	case *image.Gray16:
		buf, err := NewBuffer(w, h, LayoutGray, 2, limits)
		if err != nil {
			return nil, err
		}
		packRows(buf, src.Pix, src.Stride, src.PixOffset(bounds.Min.X, bounds.Min.Y), 1)
		return buf, nil
	case *image.NRGBA:
		return packInterleaved(src.Pix, src.Stride, src.PixOffset(bounds.Min.X, bounds.Min.Y), w, h, 1, opaque, limits)
	case *image.NRGBA64:
		return packInterleaved(src.Pix, src.Stride, src.PixOffset(bounds.Min.X, bounds.Min.Y), w, h, 2, opaque, limits)
	}

	if is16Bit(img.ColorModel()) {
		if opaque {
			dst := image.NewRGBA64(image.Rect(0, 0, w, h))
			draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
			return packInterleaved(dst.Pix, dst.Stride, 0, w, h, 2, true, limits)
		}
		dst := image.NewNRGBA64(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return packInterleaved(dst.Pix, dst.Stride, 0, w, h, 2, false, limits)
	}

	if opaque {
		// Premultiplied and straight alpha agree when every pixel is opaque,
		// and draw has fast paths into *image.RGBA.
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return packInterleaved(dst.Pix, dst.Stride, 0, w, h, 1, true, limits)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return packInterleaved(dst.Pix, dst.Stride, 0, w, h, 1, false, limits)
}

func packInterleaved(pix []byte, stride, start, w, h, depth int, opaque bool, limits Limits) (*Buffer, error) {
	layout := LayoutRGBA
	if opaque {
		layout = LayoutRGB
	}
	buf, err := NewBuffer(w, h, layout, depth, limits)
	if err != nil {
		return nil, err
	}
	packRows(buf, pix, stride, start, 4)
	return buf, nil
}

// packRows copies dst.Height rows from an interleaved plane with srcChannels
// channels per pixel, keeping the leading dst.Layout.Channels() channels.
func packRows(dst *Buffer, pix []byte, stride, start, srcChannels int) {
	ch := dst.Layout.Channels()
	d := dst.Depth
	rowBytes := dst.Stride()
	for y := 0; y < dst.Height; y++ {
		s := start + y*stride
		o := y * rowBytes
		if srcChannels == ch {
			copy(dst.Pix[o:o+rowBytes], pix[s:s+rowBytes])
			continue
		}
		for x := 0; x < dst.Width; x++ {
			si := s + x*srcChannels*d
			di := o + x*ch*d
			copy(dst.Pix[di:di+ch*d], pix[si:si+ch*d])
		}
	}
}

func isOpaque(img image.Image) bool {
	o, ok := img.(interface{ Opaque() bool })
	return ok && o.Opaque()
}

func is16Bit(m color.Model) bool {
	return m == color.RGBA64Model || m == color.NRGBA64Model || m == color.Gray16Model
}
