// Package ocr talks to the Baidu AI OCR endpoints used for paper segmentation
// and handwriting transcription.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned on first use when no API key pair is configured.
var ErrMissingCredentials = errors.New("ocr: api key and secret key are not configured")

// Region is a question bounding box in page pixel coordinates.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Gateway is the narrow contract the segmentation and grading code depend on.
type Gateway interface {
	// Segment detects question regions on a standard paper page, in reading order.
	Segment(ctx context.Context, image []byte) ([]Region, error)
	// Transcribe recognises handwriting and returns every fragment joined by a space.
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// APIError is a non-2xx response or an error_code body from the provider.
type APIError struct {
	Call       string
	StatusCode int
	Code       int64
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ocr %s: provider error %d: %s", e.Call, e.Code, e.Message)
	}
	return fmt.Sprintf("ocr %s: http %d: %s", e.Call, e.StatusCode, e.Message)
}
