package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelthumb/internal/pipeline"
	"github.com/dunamismax/pixelthumb/internal/ratelimit"
)

// costUnitPixels is the output area covered by one token.
const costUnitPixels = 256 * 256

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject = subject + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r, s.maxDimension))
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/thumbnails")
}

// requestCost charges larger outputs more tokens. Sides are clamped to
// maxDimension first; unparseable queries cost one token and fail later
// in the handler.
func requestCost(r *http.Request, maxDimension int) int64 {
	req, err := parseThumbnailQuery(r.URL.Query())
	if err != nil {
		return 1
	}
	w, h := int64(req.Width), int64(req.Height)
	if w == 0 && h == 0 {
		if flavor, err := pipeline.ParseFlavor(req.Flavor); err == nil {
			w, h = int64(flavor.Dimension()), int64(flavor.Dimension())
		}
	}
	limit := int64(maxDimension)
	w, h = min(w, limit), min(h, limit)
	return 1 + w*h/costUnitPixels
}
