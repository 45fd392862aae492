package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelthumb/internal/domain"
	"github.com/dunamismax/pixelthumb/internal/pipeline"
	"github.com/dunamismax/pixelthumb/internal/plugin"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxInputBytes = 32 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Pipeline        pipeline.Config
	MaxInputBytes   int64
	RateLimiter     RateLimiter
	RateLimitHeader string
}

// Server exposes the plugin entrypoint over HTTP for native deployments.
type Server struct {
	logger                *log.Logger
	entry                 *plugin.Entrypoint
	maxInputBytes         int64
	maxDimension          int
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(logger *log.Logger, cfg Config) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = DefaultMaxInputBytes
	}
	if cfg.Pipeline.Limits.MaxDimension <= 0 {
		cfg.Pipeline.Limits.MaxDimension = pipeline.DefaultMaxDimension
	}
	if strings.TrimSpace(cfg.RateLimitHeader) == "" {
		cfg.RateLimitHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		maxInputBytes:         cfg.MaxInputBytes,
		maxDimension:          cfg.Pipeline.Limits.MaxDimension,
		rateLimiter:           cfg.RateLimiter,
		rateLimitUserIDHeader: cfg.RateLimitHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelthumb/api"),
		mux:                   http.NewServeMux(),
	}

	pcfg := cfg.Pipeline
	pcfg.Observer = s.observeStage
	s.entry = plugin.New(logger, pcfg)

	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/formats", s.handleFormats)
	s.mux.HandleFunc("POST /v1/thumbnails", s.handleThumbnail)
	s.mux.HandleFunc("POST /v1/thumbnails/check", s.handleCheck)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type flavorInfo struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type formatsResponse struct {
	InputFormats  []string     `json:"input_formats"`
	OutputFormats []string     `json:"output_formats"`
	FitModes      []string     `json:"fit_modes"`
	Anchors       []string     `json:"anchors"`
	Flavors       []flavorInfo `json:"flavors"`
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	resp := formatsResponse{}
	for _, f := range pipeline.InputFormats {
		resp.InputFormats = append(resp.InputFormats, f.String())
	}
	for _, f := range pipeline.OutputFormats() {
		resp.OutputFormats = append(resp.OutputFormats, f.String())
	}
	for _, f := range pipeline.FitModes {
		resp.FitModes = append(resp.FitModes, string(f))
	}
	for _, a := range pipeline.Anchors {
		resp.Anchors = append(resp.Anchors, string(a))
	}
	for _, f := range pipeline.Flavors {
		resp.Flavors = append(resp.Flavors, flavorInfo{Name: string(f), Size: f.Dimension()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	req, err := parseThumbnailQuery(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, domain.Failure(string(pipeline.KindInvalidParameters), err.Error()))
		return
	}

	input, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.metrics.inputBytes.Observe(float64(len(input)))

	result, err := s.entry.Run(r.Context(), input, req)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Printf("thumbnail abandoned request_id=%s err=%v", requestIDFrom(r.Context()), err)
		return
	}

	resp := plugin.Respond(req, result, err)
	if !resp.OK {
		s.metrics.thumbnailsTotal.WithLabelValues(formatLabel(req.Format), resp.ErrorKind).Inc()
		s.writeFailure(w, r, statusForKind(pipeline.ErrorKind(resp.ErrorKind)), resp)
		return
	}
	s.metrics.thumbnailsTotal.WithLabelValues(resp.Format, "ok").Inc()

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	h := w.Header()
	h.Set("Content-Type", result.Format.MimeType())
	h.Set("Content-Length", strconv.Itoa(len(result.Data)))
	h.Set("X-Thumbnail-Width", strconv.Itoa(result.Width))
	h.Set("X-Thumbnail-Height", strconv.Itoa(result.Height))
	h.Set("X-Source-Format", result.SourceFormat.String())
	if resp.Name != "" {
		h.Set("X-Thumbnail-Name", resp.Name)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

type checkResponse struct {
	UpToDate bool               `json:"up_to_date"`
	Name     string             `json:"name"`
	Stored   *domain.SourceFile `json:"stored,omitempty"`
}

// handleCheck reports whether the thumbnail in the body still stands for
// the source file described by the query, without touching the source image.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	req, err := parseThumbnailQuery(r.URL.Query())
	if err == nil && req.Source == nil {
		err = errors.New("source_uri is required")
	}
	if err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, domain.Failure(string(pipeline.KindInvalidParameters), err.Error()))
		return
	}

	existing, ok := s.readBody(w, r)
	if !ok {
		return
	}

	source := pipeline.SourceInfo{URI: req.Source.URI, MTime: req.Source.MTime, Size: req.Source.Size}
	resp := checkResponse{Name: pipeline.ThumbnailName(source.URI)}
	if flavor, err := pipeline.ParseFlavor(req.Flavor); err == nil {
		resp.Name = flavor.CachePath(source.URI)
	}

	stored, err := pipeline.StoredSource(existing)
	if err == nil {
		resp.UpToDate = stored.SameFile(source)
		resp.Stored = &domain.SourceFile{URI: stored.URI, MTime: stored.MTime, Size: stored.Size, MimeType: stored.MimeType}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readBody reads the request body up to maxInputBytes and writes the error
// response itself when that fails.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxInputBytes))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		detail := fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		s.writeFailure(w, r, http.StatusRequestEntityTooLarge, domain.Failure(string(pipeline.KindInvalidParameters), detail))
		return nil, false
	}
	s.writeFailure(w, r, http.StatusBadRequest, domain.Failure(string(pipeline.KindInvalidParameters), "read request body: "+err.Error()))
	return nil, false
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, status int, resp domain.ThumbnailResponse) {
	if status >= http.StatusInternalServerError {
		s.logger.Printf("thumbnail failed request_id=%s status=%d kind=%s detail=%s", requestIDFrom(r.Context()), status, resp.ErrorKind, resp.ErrorDetail)
	}
	resp.OK = false
	resp.Bytes = nil
	writeJSON(w, status, resp)
}

// observeStage feeds pipeline stage timings into metrics and the request span.
func (s *Server) observeStage(ctx context.Context, stage pipeline.Stage, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(pipeline.AsError(err).Kind)
	}
	s.metrics.stageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())

	span := trace.SpanFromContext(ctx)
	span.AddEvent("pipeline."+string(stage), trace.WithAttributes(
		attribute.String("pipeline.outcome", outcome),
		attribute.Int64("pipeline.elapsed_us", elapsed.Microseconds()),
	))
}

func statusForKind(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case pipeline.KindCorruptInput:
		return http.StatusUnprocessableEntity
	case pipeline.KindDimensionTooLarge:
		return http.StatusRequestEntityTooLarge
	case pipeline.KindInvalidParameters:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseThumbnailQuery maps query parameters onto the request envelope.
func parseThumbnailQuery(q url.Values) (domain.ThumbnailRequest, error) {
	var (
		req domain.ThumbnailRequest
		err error
	)
	if req.Width, err = parseUint32(q, "width"); err != nil {
		return req, err
	}
	if req.Height, err = parseUint32(q, "height"); err != nil {
		return req, err
	}
	req.Fit = q.Get("fit")
	req.Anchor = q.Get("anchor")
	req.Format = q.Get("format")
	req.Flavor = q.Get("flavor")

	if v := q.Get("quality"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return req, fmt.Errorf("quality: %q is not an integer in 0-100", v)
		}
		quality := uint8(parsed)
		req.Quality = &quality
	}

	if uri := q.Get("source_uri"); uri != "" {
		src := &domain.SourceFile{URI: uri, MimeType: q.Get("source_mime_type")}
		if v := q.Get("source_mtime"); v != "" {
			if src.MTime, err = strconv.ParseFloat(v, 64); err != nil {
				return req, fmt.Errorf("source_mtime: %q is not a number", v)
			}
		}
		if v := q.Get("source_size"); v != "" {
			if src.Size, err = strconv.ParseUint(v, 10, 64); err != nil {
				return req, fmt.Errorf("source_size: %q is not an integer", v)
			}
		}
		req.Source = src
	}
	return req, nil
}

func parseUint32(q url.Values, key string) (uint32, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a positive integer", key, v)
	}
	return uint32(parsed), nil
}

// formatLabel keeps client-supplied format names out of metric labels.
func formatLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "default"
	}
	if f, err := pipeline.ParseFormat(name); err == nil {
		return f.String()
	}
	return "unknown"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
