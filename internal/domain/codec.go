package domain

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var envelopeJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

func DecodeRequest(data []byte) (ThumbnailRequest, error) {
	var req ThumbnailRequest
	if err := envelopeJSON.Unmarshal(data, &req); err != nil {
		return ThumbnailRequest{}, fmt.Errorf("decode request envelope: %w", err)
	}
	return req, nil
}

func EncodeRequest(req ThumbnailRequest) ([]byte, error) {
	data, err := envelopeJSON.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request envelope: %w", err)
	}
	return data, nil
}

func DecodeResponse(data []byte) (ThumbnailResponse, error) {
	var resp ThumbnailResponse
	if err := envelopeJSON.Unmarshal(data, &resp); err != nil {
		return ThumbnailResponse{}, fmt.Errorf("decode response envelope: %w", err)
	}
	return resp, nil
}

// EncodeResponse drops the payload of a failed response before marshaling.
func EncodeResponse(resp ThumbnailResponse) ([]byte, error) {
	if !resp.OK {
		resp.Bytes = nil
	}
	data, err := envelopeJSON.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response envelope: %w", err)
	}
	return data, nil
}
