package httpclient

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr error
	}{
		{name: "under limit", body: `{"result":1}`, limit: 64},
		{name: "exactly limit", body: "abcd", limit: 4},
		{name: "over limit", body: "abcde", limit: 4, wantErr: ErrBodyTooLarge},
		{name: "default limit", body: "ok", limit: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &trackingCloser{Reader: strings.NewReader(tt.body)}
			data, err := ReadBody(rc, tt.limit)
			if !rc.closed {
				t.Error("body was not closed")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadBody() error = %v", err)
			}
			if string(data) != tt.body {
				t.Errorf("data = %q, want %q", data, tt.body)
			}
		})
	}
}

func TestReadBodyNil(t *testing.T) {
	data, err := ReadBody(nil, 10)
	if err != nil || data != nil {
		t.Fatalf("ReadBody(nil) = %q, %v", data, err)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet([]byte("  short \n"), 10); got != "short" {
		t.Errorf("Snippet = %q", got)
	}
	if got := Snippet([]byte("0123456789abc"), 10); got != "0123456789..." {
		t.Errorf("Snippet = %q", got)
	}
}

func TestJSONBodyReplays(t *testing.T) {
	src, err := NewJSONBody(map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		r, err := src.NewReader()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(r)
		if string(data) != `{"a":1}` {
			t.Fatalf("read %d = %s", i, data)
		}
	}
	if n, ok := src.ContentLength(); !ok || n != 7 {
		t.Errorf("ContentLength = %d, %v", n, ok)
	}
}

func TestJSONBodyEncodeError(t *testing.T) {
	if _, err := NewJSONBody(make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}
