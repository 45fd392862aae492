package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"
)

type Stage string

const (
	StageDetect   Stage = "detect"
	StageDecode   Stage = "decode"
	StageResample Stage = "resample"
	StageEncode   Stage = "encode"
)

// failure is the error a panicking stage is reported as.
func (s Stage) failure() error {
	switch s {
	case StageDetect, StageDecode:
		return ErrCorruptInput
	case StageResample:
		return ErrInvalidParameters
	default:
		return ErrEncodeFailure
	}
}

// Observer receives the duration and outcome of every stage that ran.
type Observer func(ctx context.Context, stage Stage, elapsed time.Duration, err error)

type Config struct {
	Limits         Limits
	Workers        int
	DefaultQuality int
	Observer       Observer
}

type Request struct {
	Width  int
	Height int
	Fit    FitMode
	Anchor Anchor

	// Format zero keeps the source format when it can be encoded, else PNG.
	Format  Format
	Quality int

	// Source, when set, is embedded as freedesktop metadata in PNG output.
	Source *SourceInfo

	// Existing is a previously generated thumbnail. When its metadata still
	// matches Source no stage runs and Result.UpToDate is set.
	Existing []byte
}

type Result struct {
	Data         []byte
	Format       Format
	Width        int
	Height       int
	SourceFormat Format
	SourceWidth  int
	SourceHeight int
	UpToDate     bool
}

// Processor runs detect, decode, resample and encode over one input. It
// holds only configuration and is safe for concurrent use.
type Processor struct {
	cfg Config
}

func NewProcessor(cfg Config) *Processor {
	cfg.Limits = cfg.Limits.normalized()
	if cfg.DefaultQuality <= 0 || cfg.DefaultQuality > 100 {
		cfg.DefaultQuality = DefaultQuality
	}
	return &Processor{cfg: cfg}
}

func (p *Processor) Process(ctx context.Context, input []byte, req Request) (Result, error) {
	if err := p.validate(req); err != nil {
		return Result{}, err
	}
	if req.Source != nil && len(req.Existing) > 0 && UpToDate(req.Existing, *req.Source) {
		return Result{Format: FormatPNG, UpToDate: true}, nil
	}

	var (
		format  Format
		decoded *Buffer
		resized *Buffer
		out     Result
	)

	err := p.run(ctx, StageDetect, func() (err error) {
		format, err = Detect(input)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	err = p.run(ctx, StageDecode, func() (err error) {
		decoded, err = Decode(input, format, p.cfg.Limits)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	err = p.run(ctx, StageResample, func() (err error) {
		resized, err = Resample(decoded, ResizeOptions{
			Width:   req.Width,
			Height:  req.Height,
			Fit:     req.Fit,
			Anchor:  req.Anchor,
			Workers: p.cfg.Workers,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	target := p.outputFormat(req, format)
	opts := EncodeOptions{Format: target, Quality: req.Quality}
	if opts.Quality == 0 {
		opts.Quality = p.cfg.DefaultQuality
	}
	if req.Source != nil && target == FormatPNG {
		info := *req.Source
		if info.Width == 0 || info.Height == 0 {
			info.Width, info.Height = decoded.Width, decoded.Height
		}
		if info.MimeType == "" {
			info.MimeType = format.MimeType()
		}
		opts.Text = info.TextChunks()
	}

	err = p.run(ctx, StageEncode, func() error {
		data, err := Encode(resized, opts)
		if err != nil {
			return err
		}
		out = Result{
			Data:         data,
			Format:       target,
			Width:        resized.Width,
			Height:       resized.Height,
			SourceFormat: format,
			SourceWidth:  decoded.Width,
			SourceHeight: decoded.Height,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

func (p *Processor) validate(req Request) error {
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("%w: target %dx%d must be positive", ErrInvalidParameters, req.Width, req.Height)
	}
	if req.Width > p.cfg.Limits.MaxDimension || req.Height > p.cfg.Limits.MaxDimension {
		return fmt.Errorf("%w: target %dx%d exceeds max dimension %d", ErrInvalidParameters, req.Width, req.Height, p.cfg.Limits.MaxDimension)
	}
	if int64(req.Width)*int64(req.Height) > p.cfg.Limits.MaxPixels {
		return fmt.Errorf("%w: target %dx%d exceeds pixel limit %d", ErrInvalidParameters, req.Width, req.Height, p.cfg.Limits.MaxPixels)
	}
	if req.Quality < 0 || req.Quality > 100 {
		return fmt.Errorf("%w: quality %d outside 0-100", ErrInvalidParameters, req.Quality)
	}
	return nil
}

// outputFormat picks the requested format, PNG for freedesktop thumbnails,
// or the source format when this build can encode it.
func (p *Processor) outputFormat(req Request, source Format) Format {
	if req.Format != 0 {
		return req.Format
	}
	if req.Source != nil {
		return FormatPNG
	}
	if slices.Contains(OutputFormats(), source) {
		return source
	}
	return FormatPNG
}

// run executes one stage. A cancelled context stops the call before the
// stage starts, and a panic becomes the stage's failure kind.
func (p *Processor) run(ctx context.Context, stage Stage, fn func() error) (err error) {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s stage panicked: %v", stage.failure(), stage, r)
		}
		if p.cfg.Observer != nil {
			p.cfg.Observer(ctx, stage, time.Since(start), err)
		}
	}()
	return fn()
}
