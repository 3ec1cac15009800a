package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenSafetyMargin is subtracted from the provider's expires_in.
const tokenSafetyMargin = 60 * time.Second

// TokenProvider issues and caches the bearer token for the OCR endpoints.
// The token is refreshed lazily the first time it is found missing or expired.
type TokenProvider struct {
	baseURL   string
	apiKey    string
	secretKey string
	http      *http.Client
	now       func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenProvider creates a provider for the given credential pair.
func NewTokenProvider(baseURL, apiKey, secretKey string, httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		secretKey: secretKey,
		http:      httpClient,
		now:       time.Now,
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token returns a cached token or issues a new one.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, nil
	}
	if p.apiKey == "" || p.secretKey == "" {
		return "", ErrMissingCredentials
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", p.apiKey)
	q.Set("client_secret", p.secretKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/oauth/2.0/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Call: "token", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tr.Error != "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		return "", &APIError{Call: "token", StatusCode: resp.StatusCode, Message: msg}
	}
	if tr.AccessToken == "" {
		return "", &APIError{Call: "token", StatusCode: resp.StatusCode, Message: "no access_token in response"}
	}

	p.token = tr.AccessToken
	p.expiry = p.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSafetyMargin)
	slog.Info("issued ocr access token", "expires_at", p.expiry)
	return p.token, nil
}
