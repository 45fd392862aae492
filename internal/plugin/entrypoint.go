package plugin

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/dunamismax/pixelthumb/internal/domain"
	"github.com/dunamismax/pixelthumb/internal/pipeline"
)

// fallbackFailure is returned when even the error envelope cannot be encoded.
var fallbackFailure = []byte(`{"ok":false,"error_kind":"encode_failure","error_detail":"response envelope could not be encoded"}`)

// Entrypoint is the single operation exposed to a plugin host. It keeps
// only immutable configuration between calls.
type Entrypoint struct {
	logger    *log.Logger
	processor *pipeline.Processor
}

func New(logger *log.Logger, cfg pipeline.Config) *Entrypoint {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Entrypoint{
		logger:    logger,
		processor: pipeline.NewProcessor(cfg),
	}
}

// Handle runs one thumbnail call and always returns an encoded response
// envelope, whatever happens inside.
func (e *Entrypoint) Handle(input, envelope []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("thumbnail call panicked: %v", r)
			out = encode(domain.Failure(string(pipeline.KindEncodeFailure), fmt.Sprintf("internal panic: %v", r)))
		}
	}()

	req, err := domain.DecodeRequest(envelope)
	if err != nil {
		e.logger.Printf("thumbnail rejected kind=%s err=%v", pipeline.KindInvalidParameters, err)
		return encode(domain.Failure(string(pipeline.KindInvalidParameters), err.Error()))
	}

	result, err := e.Run(context.Background(), input, req)
	return encode(Respond(req, result, err))
}

// Run validates req and runs the pipeline over input.
func (e *Entrypoint) Run(ctx context.Context, input []byte, req domain.ThumbnailRequest) (pipeline.Result, error) {
	preq, err := BuildRequest(req)
	if err != nil {
		e.logger.Printf("thumbnail rejected kind=%s err=%v", pipeline.KindInvalidParameters, err)
		return pipeline.Result{}, err
	}

	result, err := e.processor.Process(ctx, input, preq)
	if err != nil {
		e.logger.Printf("thumbnail failed input_bytes=%d kind=%s err=%v", len(input), pipeline.AsError(err).Kind, err)
		return pipeline.Result{}, err
	}
	return result, nil
}

// BuildRequest turns the wire request into a pipeline request. Flavor
// without an explicit size selects the flavor's square box.
func BuildRequest(req domain.ThumbnailRequest) (pipeline.Request, error) {
	if err := req.Validate(); err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %v", pipeline.ErrInvalidParameters, err)
	}

	out := pipeline.Request{Width: int(req.Width), Height: int(req.Height)}

	if strings.TrimSpace(req.Flavor) != "" {
		flavor, err := pipeline.ParseFlavor(req.Flavor)
		if err != nil {
			return pipeline.Request{}, err
		}
		if out.Width == 0 && out.Height == 0 {
			out.Width, out.Height = flavor.Dimension(), flavor.Dimension()
		}
	}

	var err error
	if out.Fit, err = pipeline.ParseFitMode(req.Fit); err != nil {
		return pipeline.Request{}, err
	}
	if out.Anchor, err = pipeline.ParseAnchor(req.Anchor); err != nil {
		return pipeline.Request{}, err
	}
	if strings.TrimSpace(req.Format) != "" {
		if out.Format, err = pipeline.ParseFormat(req.Format); err != nil {
			return pipeline.Request{}, err
		}
	}
	if req.Quality != nil {
		out.Quality = int(*req.Quality)
	}
	if req.Source != nil {
		out.Source = &pipeline.SourceInfo{
			URI:      req.Source.URI,
			MTime:    req.Source.MTime,
			Size:     req.Source.Size,
			MimeType: req.Source.MimeType,
		}
		out.Existing = req.Existing
	}
	return out, nil
}

// Respond maps the outcome of Run onto the response envelope.
func Respond(req domain.ThumbnailRequest, result pipeline.Result, err error) domain.ThumbnailResponse {
	if err != nil {
		pe := pipeline.AsError(err)
		return domain.Failure(string(pe.Kind), pe.Detail)
	}

	resp := domain.ThumbnailResponse{
		OK:       true,
		Bytes:    result.Data,
		Format:   result.Format.String(),
		Width:    result.Width,
		Height:   result.Height,
		UpToDate: result.UpToDate,
	}
	// Only PNG output carries the Thumb::* entries a cache name implies.
	if req.Source != nil && result.Format == pipeline.FormatPNG {
		resp.Name = pipeline.ThumbnailName(req.Source.URI)
		if flavor, ferr := pipeline.ParseFlavor(req.Flavor); ferr == nil {
			resp.Name = flavor.CachePath(req.Source.URI)
		}
	}
	return resp
}

func encode(resp domain.ThumbnailResponse) []byte {
	data, err := domain.EncodeResponse(resp)
	if err != nil {
		return fallbackFailure
	}
	return data
}
