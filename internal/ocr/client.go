package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/pavelanni/gradedesk/internal/metrics"
	"github.com/pavelanni/gradedesk/internal/tracing"
)

const (
	DefaultBaseURL = "https://aip.baidubce.com"

	segmentPath    = "/rest/2.0/ocr/v1/paper_cut_edu"
	transcribePath = "/rest/2.0/ocr/v1/handwriting"
)

// Config holds the OCR gateway settings.
type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	// QPS caps the request rate to the provider; zero or less disables the limit.
	QPS        float64
	HTTPClient *http.Client
}

// Client is the Baidu OCR implementation of Gateway.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenProvider
	limiter *rate.Limiter
}

// New creates a Client. Credentials are checked lazily on the first call.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		tokens:  NewTokenProvider(cfg.BaseURL, cfg.APIKey, cfg.SecretKey, cfg.HTTPClient),
		limiter: limiter,
	}
}

type providerError struct {
	ErrorCode int64  `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

type segmentResponse struct {
	providerError
	Results []struct {
		Location Region `json:"location"`
	} `json:"results"`
}

type transcribeResponse struct {
	providerError
	WordsResult []struct {
		Words string `json:"words"`
	} `json:"words_result"`
}

// Segment calls the paper cut endpoint.
func (c *Client) Segment(ctx context.Context, image []byte) ([]Region, error) {
	var resp segmentResponse
	if err := c.call(ctx, "segment", segmentPath, image, &resp, &resp.providerError); err != nil {
		return nil, err
	}
	regions := make([]Region, 0, len(resp.Results))
	for _, r := range resp.Results {
		regions = append(regions, r.Location)
	}
	return regions, nil
}

// Transcribe calls the handwriting endpoint.
func (c *Client) Transcribe(ctx context.Context, image []byte) (string, error) {
	var resp transcribeResponse
	if err := c.call(ctx, "transcribe", transcribePath, image, &resp, &resp.providerError); err != nil {
		return "", err
	}
	words := make([]string, 0, len(resp.WordsResult))
	for _, w := range resp.WordsResult {
		words = append(words, w.Words)
	}
	return strings.Join(words, " "), nil
}

func (c *Client) call(ctx context.Context, name, path string, image []byte, out any, perr *providerError) (err error) {
	ctx, span := tracing.Tracer.Start(ctx, "ocr."+name)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.OCRRequests.WithLabelValues(name, outcome).Inc()
		metrics.OCRDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}()
	span.SetAttributes(attribute.Int("ocr.image_bytes", len(image)))

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ocr %s: %w", name, err)
	}

	form := url.Values{}
	form.Set("access_token", token)
	form.Set("image", base64.StdEncoding.EncodeToString(image))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ocr %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Call: name, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", name, err)
	}
	if perr.ErrorCode != 0 {
		msg := perr.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("error code %d", perr.ErrorCode)
		}
		return &APIError{Call: name, StatusCode: resp.StatusCode, Code: perr.ErrorCode, Message: msg}
	}
	slog.Debug("ocr call complete", "call", name, "duration", time.Since(start))
	return nil
}
