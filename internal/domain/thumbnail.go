package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ThumbnailRequest is the request envelope. The source image bytes travel
// beside it, never inside it.
type ThumbnailRequest struct {
	Width   uint32      `json:"width"`
	Height  uint32      `json:"height"`
	Fit     string      `json:"fit,omitempty"`
	Anchor  string      `json:"anchor,omitempty"`
	Format  string      `json:"format,omitempty"`
	Quality *uint8      `json:"quality,omitempty"`
	Flavor  string      `json:"flavor,omitempty"`
	Source  *SourceFile `json:"source,omitempty"`

	// Existing is a thumbnail generated earlier for Source. If it still
	// matches, the response reports up_to_date instead of new bytes.
	Existing []byte `json:"existing,omitempty"`
}

// SourceFile is the freedesktop metadata of the thumbnailed file.
type SourceFile struct {
	URI      string  `json:"uri"`
	MTime    float64 `json:"mtime"`
	Size     uint64  `json:"size,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
}

// ThumbnailResponse is the response envelope. Bytes is set only when OK and
// not UpToDate; the error fields only when not OK.
type ThumbnailResponse struct {
	OK          bool   `json:"ok"`
	Bytes       []byte `json:"bytes,omitempty"`
	Format      string `json:"format,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Name        string `json:"name,omitempty"`
	UpToDate    bool   `json:"up_to_date,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

func (r ThumbnailRequest) Validate() error {
	sized := r.Width > 0 || r.Height > 0
	if strings.TrimSpace(r.Flavor) == "" || sized {
		if r.Width == 0 {
			return errors.New("width must be > 0")
		}
		if r.Height == 0 {
			return errors.New("height must be > 0")
		}
	}
	if r.Quality != nil && *r.Quality > 100 {
		return fmt.Errorf("quality must be within 0-100, got %d", *r.Quality)
	}
	if r.Source != nil && strings.TrimSpace(r.Source.URI) == "" {
		return errors.New("source.uri is required when source is set")
	}
	if len(r.Existing) > 0 && r.Source == nil {
		return errors.New("existing requires source")
	}
	return nil
}

// Failure builds the error envelope.
func Failure(kind, detail string) ThumbnailResponse {
	return ThumbnailResponse{ErrorKind: kind, ErrorDetail: detail}
}
