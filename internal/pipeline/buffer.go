package pipeline

import "fmt"

// Layout is the channel arrangement of a Buffer. Its value is the channel count.
type Layout uint8

const (
	LayoutGray Layout = 1
	LayoutRGB  Layout = 3
	LayoutRGBA Layout = 4
)

func (l Layout) Channels() int {
	return int(l)
}

func (l Layout) String() string {
	switch l {
	case LayoutGray:
		return "gray"
	case LayoutRGB:
		return "rgb"
	case LayoutRGBA:
		return "rgba"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

const (
	DefaultMaxDimension       = 16384
	DefaultMaxPixels    int64 = 40_000_000
)

// Limits is the decompression-bomb guard applied before any pixel allocation.
type Limits struct {
	MaxDimension int
	MaxPixels    int64
}

func DefaultLimits() Limits {
	return Limits{MaxDimension: DefaultMaxDimension, MaxPixels: DefaultMaxPixels}
}

func (l Limits) normalized() Limits {
	if l.MaxDimension <= 0 {
		l.MaxDimension = DefaultMaxDimension
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	return l
}

// Check reports ErrDimensionTooLarge for dimensions past the guard and
// ErrCorruptInput for non-positive ones.
func (l Limits) Check(width, height int) error {
	l = l.normalized()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: image declares %dx%d", ErrCorruptInput, width, height)
	}
	if width > l.MaxDimension || height > l.MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds max dimension %d", ErrDimensionTooLarge, width, height, l.MaxDimension)
	}
	if pixels := int64(width) * int64(height); pixels > l.MaxPixels {
		return fmt.Errorf("%w: %d pixels exceeds limit %d", ErrDimensionTooLarge, pixels, l.MaxPixels)
	}
	return nil
}

// Buffer is a decoded image: rows top to bottom, channels interleaved,
// 16-bit samples stored big-endian. Alpha is never premultiplied.
type Buffer struct {
	Width  int
	Height int
	Layout Layout
	Depth  int
	Pix    []byte
}

// NewBuffer allocates a zeroed buffer after checking the limits.
func NewBuffer(width, height int, layout Layout, depth int, limits Limits) (*Buffer, error) {
	if err := limits.Check(width, height); err != nil {
		return nil, err
	}
	if err := checkLayout(layout, depth); err != nil {
		return nil, err
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Layout: layout,
		Depth:  depth,
		Pix:    make([]byte, width*height*layout.Channels()*depth),
	}, nil
}

func checkLayout(layout Layout, depth int) error {
	switch layout {
	case LayoutGray, LayoutRGB, LayoutRGBA:
	default:
		return fmt.Errorf("unsupported channel layout %s", layout)
	}
	if depth != 1 && depth != 2 {
		return fmt.Errorf("unsupported sample depth %d", depth)
	}
	return nil
}

// Validate checks the payload invariant and the dimension guard.
func (b *Buffer) Validate(limits Limits) error {
	if b == nil {
		return fmt.Errorf("buffer is nil")
	}
	if err := limits.Check(b.Width, b.Height); err != nil {
		return err
	}
	return b.checkPayload()
}

func (b *Buffer) checkPayload() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("buffer is %dx%d", b.Width, b.Height)
	}
	if err := checkLayout(b.Layout, b.Depth); err != nil {
		return err
	}
	if want := b.Width * b.Height * b.Layout.Channels() * b.Depth; len(b.Pix) != want {
		return fmt.Errorf("payload is %d bytes, want %d for %dx%d %s/%d", len(b.Pix), want, b.Width, b.Height, b.Layout, b.Depth)
	}
	return nil
}

// Stride is the byte length of one row.
func (b *Buffer) Stride() int {
	return b.Width * b.Layout.Channels() * b.Depth
}

func (b *Buffer) Clone() *Buffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Width: b.Width, Height: b.Height, Layout: b.Layout, Depth: b.Depth, Pix: pix}
}

func (b *Buffer) maxSample() int32 {
	if b.Depth == 2 {
		return 0xFFFF
	}
	return 0xFF
}

// sample reads the i-th sample (not byte) of Pix.
func (b *Buffer) sample(i int) int32 {
	if b.Depth == 2 {
		return int32(b.Pix[2*i])<<8 | int32(b.Pix[2*i+1])
	}
	return int32(b.Pix[i])
}

func (b *Buffer) setSample(i int, v int32) {
	if b.Depth == 2 {
		b.Pix[2*i] = uint8(v >> 8)
		b.Pix[2*i+1] = uint8(v)
		return
	}
	b.Pix[i] = uint8(v)
}
