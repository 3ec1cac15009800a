package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBaidu struct {
	tokenCalls atomic.Int32
	expiresIn  int64
	segment    string
	transcribe string
	lastImage  string
}

func (f *fakeBaidu) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if r.URL.Query().Get("client_id") != "ak" || r.URL.Query().Get("client_secret") != "sk" {
			fmt.Fprint(w, `{"error":"invalid_client","error_description":"unknown client id"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d}`, f.tokenCalls.Load(), f.expiresIn)
	})
	check := func(r *http.Request) bool {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return false
		}
		f.lastImage = r.PostForm.Get("image")
		return r.PostForm.Get("access_token") != ""
	}
	mux.HandleFunc(segmentPath, func(w http.ResponseWriter, r *http.Request) {
		if !check(r) {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, f.segment)
	})
	mux.HandleFunc(transcribePath, func(w http.ResponseWriter, r *http.Request) {
		if !check(r) {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, f.transcribe)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBaidu, apiKey, secretKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: apiKey, SecretKey: secretKey, HTTPClient: srv.Client()})
}

func TestSegment(t *testing.T) {
	f := &fakeBaidu{
		expiresIn: 2592000,
		segment: `{"results":[
			{"location":{"left":10,"top":20,"width":300,"height":80}},
			{"location":{"left":10,"top":120,"width":300,"height":90}}]}`,
	}
	c := newTestClient(t, f, "ak", "sk")

	regions, err := c.Segment(context.Background(), []byte("page"))
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	want := []Region{{10, 20, 300, 80}, {10, 120, 300, 90}}
	if len(regions) != len(want) {
		t.Fatalf("expected %d regions, got %d", len(want), len(regions))
	}
	for i := range want {
		if regions[i] != want[i] {
			t.Errorf("region %d = %+v, want %+v", i, regions[i], want[i])
		}
	}
	if f.lastImage != base64.StdEncoding.EncodeToString([]byte("page")) {
		t.Errorf("image not sent base64 encoded: %q", f.lastImage)
	}
}

func TestTranscribeJoinsWords(t *testing.T) {
	f := &fakeBaidu{
		expiresIn:  2592000,
		transcribe: `{"words_result":[{"words":"answer"},{"words":"15"},{"words":"plus more text"}],"words_result_num":3}`,
	}
	c := newTestClient(t, f, "ak", "sk")

	text, err := c.Transcribe(context.Background(), []byte("sheet"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "answer 15 plus more text" {
		t.Errorf("Transcribe = %q", text)
	}
}

func TestProviderErrorCode(t *testing.T) {
	f := &fakeBaidu{
		expiresIn:  2592000,
		transcribe: `{"error_code":17,"error_msg":"Open api daily request limit reached"}`,
	}
	c := newTestClient(t, f, "ak", "sk")

	_, err := c.Transcribe(context.Background(), []byte("sheet"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 17 {
		t.Errorf("expected code 17, got %d", apiErr.Code)
	}
}

func TestMissingCredentials(t *testing.T) {
	f := &fakeBaidu{expiresIn: 2592000, segment: `{"results":[]}`}
	c := newTestClient(t, f, "", "")

	_, err := c.Segment(context.Background(), []byte("page"))
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if f.tokenCalls.Load() != 0 {
		t.Errorf("no token request should be sent without credentials")
	}
}

func TestTokenRejected(t *testing.T) {
	f := &fakeBaidu{expiresIn: 2592000}
	c := newTestClient(t, f, "ak", "wrong")

	_, err := c.Transcribe(context.Background(), []byte("sheet"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Call != "token" {
		t.Fatalf("expected token APIError, got %v", err)
	}
}

func TestTokenCachedUntilSafetyMargin(t *testing.T) {
	f := &fakeBaidu{expiresIn: 3600}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewTokenProvider(srv.URL, "ak", "sk", srv.Client())
	p.now = func() time.Time { return now }

	ctx := context.Background()
	tok, err := p.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("expected tok-1, got %q", tok)
	}

	// Still valid just before expires_in - 60s.
	now = now.Add(3600*time.Second - 61*time.Second)
	tok, _ = p.Token(ctx)
	if tok != "tok-1" || f.tokenCalls.Load() != 1 {
		t.Errorf("expected cached token, got %q after %d calls", tok, f.tokenCalls.Load())
	}

	// Expired once the safety margin is reached.
	now = now.Add(time.Second)
	tok, err = p.Token(ctx)
	if err != nil {
		t.Fatalf("Token refresh: %v", err)
	}
	if tok != "tok-2" || f.tokenCalls.Load() != 2 {
		t.Errorf("expected refreshed tok-2, got %q after %d calls", tok, f.tokenCalls.Load())
	}
}
