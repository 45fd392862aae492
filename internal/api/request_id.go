package api

import (
	"context"
	"net/http"

	"github.com/dunamismax/pixelthumb/internal/id"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// withRequestID keeps a well-formed incoming request id and mints one otherwise.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if !id.Valid(reqID) {
			reqID = id.New()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func requestIDFrom(ctx context.Context) string {
	reqID, _ := ctx.Value(requestIDKey{}).(string)
	return reqID
}
