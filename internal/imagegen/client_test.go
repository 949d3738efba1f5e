package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["prompt"] != "a red bicycle" {
			t.Errorf("prompt = %q", req["prompt"])
		}
		_ = json.NewEncoder(w).Encode(Result{URL: "https://images.example.com/abc.png"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Generate(context.Background(), "a red bicycle")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.URL != "https://images.example.com/abc.png" {
		t.Fatalf("URL = %q", res.URL)
	}
}

func TestHTTPClientGenerateEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("Generate() expected error for missing url")
	}
}

func TestNewPicksMockWithoutURL(t *testing.T) {
	if _, ok := New("").(*MockClient); !ok {
		t.Fatalf("New(\"\") should return the mock client")
	}
	if _, ok := New("http://example.test").(*HTTPClient); !ok {
		t.Fatalf("New(url) should return the http client")
	}
}
