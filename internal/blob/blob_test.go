package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"exams/e1/pages/1.png", "exams/e1/pages/1.png", false},
		{"/exams//e1/./1.png", "exams/e1/1.png", false},
		{"../../etc/passwd", "etc/passwd", false},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanKey: %v", err)
			}
			if got != tt.want {
				t.Errorf("CleanKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	data := []byte("fake png bytes")
	if err := p.Put(ctx, "exams/e1/pages/1.png", bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := p.Get(ctx, "exams/e1/pages/1.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q", got)
	}

	if err := p.Delete(ctx, "exams/e1/pages/1.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, "exams/e1/pages/1.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := p.Delete(ctx, "exams/e1/pages/1.png"); err != nil {
		t.Errorf("deleting a missing blob should succeed, got %v", err)
	}
}
