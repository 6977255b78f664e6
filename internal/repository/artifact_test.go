package repository

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &PaginationCursor{
		ID:        "01HZXK3M7Q",
		CreatedAt: time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC),
	}

	out, err := decodeCursor(encodeCursor(in))
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if out.ID != in.ID || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("cursor mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"not base64", "%%%"},
		{"not json", base64.URLEncoding.EncodeToString([]byte("nope"))},
		{"missing fields", base64.URLEncoding.EncodeToString([]byte(`{}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeCursor(tt.cursor); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := decodeCursor(base64.URLEncoding.EncodeToString([]byte(`{"id":""}`))); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}
