package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

var testFormats = []string{"jpeg", "jpg", "png", "webp"}

func TestFetcherRejectsNonHTTPSchemes(t *testing.T) {
	f := NewFetcher(time.Second, 1<<20, testFormats)

	for _, rawURL := range []string{
		"ftp://host/img.jpg",
		"file:///tmp/img.jpg",
		"/tmp/img.jpg",
	} {
		_, err := f.Fetch(context.Background(), rawURL)
		assertFailureKind(t, err, FailureInvalidSource)
	}
}

func TestFetcherRejectsUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 1<<20, testFormats)
	_, err := f.Fetch(context.Background(), srv.URL+"/img.jpg")
	failure := assertFailureKind(t, err, FailureUpstream)
	if want := "404"; !strings.Contains(failure.Message, want) {
		t.Fatalf("expected message to carry status %s, got %q", want, failure.Message)
	}
}

func TestFetcherRejectsUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 1<<20, testFormats)
	_, err := f.Fetch(context.Background(), srv.URL+"/page")
	assertFailureKind(t, err, FailureUnsupportedContentType)
}

func TestFetcherRejectsDeclaredOversizeBodyWithoutReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(20<<20))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 10<<20, testFormats)
	_, err := f.Fetch(context.Background(), srv.URL+"/big.jpg")
	assertFailureKind(t, err, FailureTooLarge)
}

func TestFetcherAbortsStreamOverByteBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		// Chunked transfer: no content-length header to trust.
		chunk := make([]byte, 512)
		for i := 0; i < 8; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 1024, testFormats)
	_, err := f.Fetch(context.Background(), srv.URL+"/stream.jpg")
	assertFailureKind(t, err, FailureTooLarge)
}

func TestFetcherTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Header().Set("Content-Type", "image/jpeg")
	}))
	defer srv.Close()

	f := NewFetcher(50*time.Millisecond, 1<<20, testFormats)
	_, err := f.Fetch(context.Background(), srv.URL+"/slow.jpg")
	assertFailureKind(t, err, FailureTimeout)
}

func TestFetcherReportsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	f := NewFetcher(time.Second, 1<<20, testFormats)
	_, err := f.Fetch(context.Background(), deadURL+"/img.jpg")
	assertFailureKind(t, err, FailureTransport)
}

func TestFetcherResolvesExtension(t *testing.T) {
	cases := []struct {
		name        string
		path        string
		contentType string
		want        string
	}{
		{name: "url extension wins", path: "/photos/cat.png", contentType: "image/jpeg", want: "png"},
		{name: "content type when url has no extension", path: "/photos/cat", contentType: "image/png", want: "png"},
		{name: "unsupported url extension falls back to content type", path: "/photos/cat.svg", contentType: "image/webp", want: "webp"},
		{name: "jpeg content type maps to jpg", path: "/photos/cat", contentType: "image/jpeg", want: "jpg"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				_, _ = w.Write([]byte("not-really-an-image"))
			}))
			defer srv.Close()

			f := NewFetcher(time.Second, 1<<20, testFormats)
			res, err := f.Fetch(context.Background(), srv.URL+tc.path)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if res.Extension != tc.want {
				t.Fatalf("expected extension %q, got %q", tc.want, res.Extension)
			}
			if len(res.Data) == 0 {
				t.Fatal("expected body bytes to be returned")
			}
		})
	}
}

func assertFailureKind(t *testing.T, err error, want FailureKind) *Failure {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a %s failure, got nil", want)
	}
	failure, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected a pipeline failure, got %T: %v", err, err)
	}
	if failure.Kind != want {
		t.Fatalf("expected failure kind %s, got %s (%v)", want, failure.Kind, err)
	}
	return failure
}
