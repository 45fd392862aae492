package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FitMode decides how the source aspect ratio meets the target box.
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
	FitCrop    FitMode = "crop"
	FitStretch FitMode = "stretch"
)

var FitModes = []FitMode{FitContain, FitCover, FitCrop, FitStretch}

func ParseFitMode(name string) (FitMode, error) {
	switch mode := FitMode(strings.ToLower(strings.TrimSpace(name))); mode {
	case "":
		return FitContain, nil
	case FitContain, FitCover, FitCrop, FitStretch:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unknown fit mode %q", ErrInvalidParameters, name)
	}
}

// Anchor positions the crop window of FitCrop inside the scaled image.
type Anchor string

const (
	AnchorCenter      Anchor = "center"
	AnchorTop         Anchor = "top"
	AnchorBottom      Anchor = "bottom"
	AnchorLeft        Anchor = "left"
	AnchorRight       Anchor = "right"
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

var Anchors = []Anchor{
	AnchorCenter, AnchorTop, AnchorBottom, AnchorLeft, AnchorRight,
	AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight,
}

func ParseAnchor(name string) (Anchor, error) {
	anchor := Anchor(strings.ToLower(strings.TrimSpace(name)))
	if anchor == "" {
		return AnchorCenter, nil
	}
	for _, known := range Anchors {
		if anchor == known {
			return anchor, nil
		}
	}
	return "", fmt.Errorf("%w: unknown crop anchor %q", ErrInvalidParameters, name)
}

// offset splits the overflow of each axis according to the anchor.
func (a Anchor) offset(extraX, extraY int) (int, int) {
	x, y := extraX/2, extraY/2
	switch a {
	case AnchorTop:
		y = 0
	case AnchorBottom:
		y = extraY
	case AnchorLeft:
		x = 0
	case AnchorRight:
		x = extraX
	case AnchorTopLeft:
		x, y = 0, 0
	case AnchorTopRight:
		x, y = extraX, 0
	case AnchorBottomLeft:
		x, y = 0, extraY
	case AnchorBottomRight:
		x, y = extraX, extraY
	}
	return x, y
}

type ResizeOptions struct {
	Width   int
	Height  int
	Fit     FitMode
	Anchor  Anchor
	Workers int
}

// Geometry is the plan for one resample: the source is scaled to
// ScaledWidth x ScaledHeight and the Width x Height window starting at
// (OffsetX, OffsetY) is kept.
type Geometry struct {
	ScaledWidth  int
	ScaledHeight int
	OffsetX      int
	OffsetY      int
	Width        int
	Height       int
}

func PlanGeometry(srcW, srcH int, opts ResizeOptions) (Geometry, error) {
	tw, th := opts.Width, opts.Height
	if tw <= 0 || th <= 0 {
		return Geometry{}, fmt.Errorf("%w: target %dx%d must be positive", ErrInvalidParameters, tw, th)
	}
	if srcW <= 0 || srcH <= 0 {
		return Geometry{}, fmt.Errorf("%w: source %dx%d must be positive", ErrInvalidParameters, srcW, srcH)
	}

	sx := float64(tw) / float64(srcW)
	sy := float64(th) / float64(srcH)

	switch opts.Fit {
	case FitStretch:
		return Geometry{ScaledWidth: tw, ScaledHeight: th, Width: tw, Height: th}, nil
	case FitContain, "":
		s := math.Min(sx, sy)
		w := clamp(int(math.Round(float64(srcW)*s)), 1, tw)
		h := clamp(int(math.Round(float64(srcH)*s)), 1, th)
		return Geometry{ScaledWidth: w, ScaledHeight: h, Width: w, Height: h}, nil
	case FitCover, FitCrop:
		s := math.Max(sx, sy)
		w := max(tw, int(math.Round(float64(srcW)*s)))
		h := max(th, int(math.Round(float64(srcH)*s)))
		anchor := AnchorCenter
		if opts.Fit == FitCrop && opts.Anchor != "" {
			anchor = opts.Anchor
		}
		ox, oy := anchor.offset(w-tw, h-th)
		return Geometry{ScaledWidth: w, ScaledHeight: h, OffsetX: ox, OffsetY: oy, Width: tw, Height: th}, nil
	default:
		return Geometry{}, fmt.Errorf("%w: unknown fit mode %q", ErrInvalidParameters, opts.Fit)
	}
}

// Resample produces a new buffer sized per opts. src is never modified.
func Resample(src *Buffer, opts ResizeOptions) (*Buffer, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source buffer is nil", ErrInvalidParameters)
	}
	if err := src.checkPayload(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	geo, err := PlanGeometry(src.Width, src.Height, opts)
	if err != nil {
		return nil, err
	}
	if opts.Width == src.Width && opts.Height == src.Height {
		return src.Clone(), nil
	}
	if geo.ScaledWidth == src.Width && geo.ScaledHeight == src.Height && geo.Width == src.Width && geo.Height == src.Height {
		return src.Clone(), nil
	}

	xk := buildKernel(src.Width, geo.ScaledWidth, geo.OffsetX, geo.Width)
	yk := buildKernel(src.Height, geo.ScaledHeight, geo.OffsetY, geo.Height)

	dst := &Buffer{
		Width:  geo.Width,
		Height: geo.Height,
		Layout: src.Layout,
		Depth:  src.Depth,
		Pix:    make([]byte, geo.Width*geo.Height*src.Layout.Channels()*src.Depth),
	}

	rowLo, rowHi := yk.span()
	r := resampler{src: src, dst: dst, xk: xk, yk: yk, rowLo: rowLo}
	r.inter = make([]int32, (rowHi-rowLo+1)*dst.Width*src.Layout.Channels())

	if err := forEachBand(rowHi-rowLo+1, opts.Workers, r.horizontal); err != nil {
		return nil, err
	}
	if err := forEachBand(dst.Height, opts.Workers, r.vertical); err != nil {
		return nil, err
	}
	return dst, nil
}

const (
	weightBits = 16
	weightOne  = 1 << weightBits
	// fractional bits kept between the horizontal and vertical passes
	interBits = 8
)

// kernel holds, per destination index, the clamped source taps and their
// fixed-point weights. Weights of every destination index sum to weightOne.
type kernel struct {
	offsets []int
	taps    []int
	weights []int64
}

func (k kernel) span() (int, int) {
	lo, hi := math.MaxInt, 0
	for _, t := range k.taps {
		lo = min(lo, t)
		hi = max(hi, t)
	}
	return lo, hi
}

// buildKernel builds a tent (bilinear) kernel whose support widens with the
// downscale ratio so every source sample contributes when shrinking.
func buildKernel(srcLen, scaledLen, offset, outLen int) kernel {
	ratio := float64(srcLen) / float64(scaledLen)
	support := math.Max(1, ratio)

	k := kernel{offsets: make([]int, outLen+1)}
	var (
		taps []int
		raw  []float64
	)
	for i := 0; i < outLen; i++ {
		// The explicit conversion forbids FMA fusion, so every GOARCH
		// computes the same center and the output stays bit-identical.
		center := float64((float64(i+offset)+0.5)*ratio) - 0.5
		lo := int(math.Floor(center-support)) + 1
		hi := int(math.Ceil(center+support)) - 1

		taps, raw = taps[:0], raw[:0]
		total := 0.0
		for j := lo; j <= hi; j++ {
			w := 1 - math.Abs(float64(j)-center)/support
			if w <= 0 {
				continue
			}
			t := clamp(j, 0, srcLen-1)
			if n := len(taps); n > 0 && taps[n-1] == t {
				raw[n-1] += w
			} else {
				taps = append(taps, t)
				raw = append(raw, w)
			}
			total += w
		}

		k.taps = append(k.taps, taps...)
		k.weights = append(k.weights, quantize(raw, total)...)
		k.offsets[i+1] = len(k.taps)
	}
	return k
}

// quantize converts float weights into fixed point with an exact sum of
// weightOne using the largest-remainder method.
func quantize(raw []float64, total float64) []int64 {
	out := make([]int64, len(raw))
	frac := make([]float64, len(raw))
	var sum int64
	for i, w := range raw {
		scaled := w / total * weightOne
		out[i] = int64(math.Floor(scaled))
		frac[i] = scaled - float64(out[i])
		sum += out[i]
	}

	order := make([]int, len(raw))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return frac[order[a]] > frac[order[b]] })
	for i := 0; sum < weightOne; i++ {
		out[order[i%len(order)]]++
		sum++
	}
	return out
}

type resampler struct {
	src, dst *Buffer
	xk, yk   kernel
	rowLo    int
	inter    []int32
}

// horizontal filters source rows [rowLo+lo, rowLo+hi) into inter.
// RGBA color samples are premultiplied by alpha before filtering.
func (r *resampler) horizontal(lo, hi int) {
	ch := r.src.Layout.Channels()
	maxV := int64(r.src.maxSample())
	hasAlpha := r.src.Layout == LayoutRGBA
	outW := r.dst.Width
	acc := make([]int64, ch)

	for row := lo; row < hi; row++ {
		srcRow := (r.rowLo + row) * r.src.Width * ch
		interRow := row * outW * ch
		for x := 0; x < outW; x++ {
			clear(acc)
			for t := r.xk.offsets[x]; t < r.xk.offsets[x+1]; t++ {
				base := srcRow + r.xk.taps[t]*ch
				w := r.xk.weights[t]
				if hasAlpha {
					a := int64(r.src.sample(base + 3))
					for c := 0; c < 3; c++ {
						v := int64(r.src.sample(base + c))
						acc[c] += w * ((v*a + maxV/2) / maxV)
					}
					acc[3] += w * a
					continue
				}
				for c := 0; c < ch; c++ {
					acc[c] += w * int64(r.src.sample(base+c))
				}
			}
			for c := 0; c < ch; c++ {
				r.inter[interRow+x*ch+c] = int32((acc[c] + 1<<(weightBits-interBits-1)) >> (weightBits - interBits))
			}
		}
	}
}

// vertical filters inter into destination rows [lo, hi).
func (r *resampler) vertical(lo, hi int) {
	ch := r.dst.Layout.Channels()
	maxV := int64(r.dst.maxSample())
	hasAlpha := r.dst.Layout == LayoutRGBA
	outW := r.dst.Width
	const shift = weightBits + interBits
	acc := make([]int64, ch)

	for y := lo; y < hi; y++ {
		for x := 0; x < outW; x++ {
			clear(acc)
			for t := r.yk.offsets[y]; t < r.yk.offsets[y+1]; t++ {
				base := ((r.yk.taps[t]-r.rowLo)*outW + x) * ch
				w := r.yk.weights[t]
				for c := 0; c < ch; c++ {
					acc[c] += w * int64(r.inter[base+c])
				}
			}

			out := (y*outW + x) * ch
			if !hasAlpha {
				for c := 0; c < ch; c++ {
					r.dst.setSample(out+c, int32(min(maxV, (acc[c]+1<<(shift-1))>>shift)))
				}
				continue
			}

			alpha := min(maxV, (acc[3]+1<<(shift-1))>>shift)
			r.dst.setSample(out+3, int32(alpha))
			for c := 0; c < 3; c++ {
				var v int64
				if alpha > 0 {
					v = min(maxV, (acc[c]*maxV+acc[3]/2)/acc[3])
				}
				r.dst.setSample(out+c, int32(v))
			}
		}
	}
}

const minBandRows = 16

// forEachBand splits [0, rows) into contiguous bands. With workers <= 1 it
// runs fn once on the calling goroutine.
func forEachBand(rows, workers int, fn func(lo, hi int)) error {
	if rows <= 0 {
		return nil
	}
	if workers <= 1 || rows < 2*minBandRows {
		fn(0, rows)
		return nil
	}

	bands := min(workers, rows/minBandRows)
	var g errgroup.Group
	g.SetLimit(workers)
	for b := 0; b < bands; b++ {
		lo, hi := rows*b/bands, rows*(b+1)/bands
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: resample band %d-%d panicked: %v", ErrInvalidParameters, lo, hi, r)
				}
			}()
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
