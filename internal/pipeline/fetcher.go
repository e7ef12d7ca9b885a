package pipeline

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const DefaultFetchTimeout = 30 * time.Second

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

var extByMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// FetchResult carries downloaded bytes plus the file extension inferred
// from the URL path or, failing that, the response content type.
type FetchResult struct {
	Data      []byte
	Extension string
}

// Fetcher downloads a remote image under strict bounds: http/https only,
// a hard byte budget enforced both on the advertised content length and
// on the streamed body, and a per-request timeout.
type Fetcher struct {
	client      *http.Client
	maxBytes    int64
	allowedMIME map[string]bool
	extensions  map[string]bool
}

func NewFetcher(timeout time.Duration, maxBytes int64, supportedFormats []string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	allowedMIME := make(map[string]bool, len(supportedFormats))
	extensions := make(map[string]bool, len(supportedFormats))
	for _, format := range supportedFormats {
		format = strings.ToLower(strings.TrimSpace(format))
		mimeType, ok := mimeByFormat[format]
		if !ok {
			continue
		}
		extensions[format] = true
		allowedMIME[mimeType] = true
	}

	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		maxBytes:    maxBytes,
		allowedMIME: allowedMIME,
		extensions:  extensions,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return FetchResult{}, wrapFailure(FailureInvalidSource, err, "invalid image URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return FetchResult{}, Failuref(FailureInvalidSource, "unsupported URL scheme %q, only http and https are allowed", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return FetchResult{}, wrapFailure(FailureInvalidSource, err, "invalid image URL")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FetchResult{}, Failuref(FailureUpstream, "image host responded with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if !f.allowedMIME[mediaType] {
		return FetchResult{}, Failuref(FailureUnsupportedContentType, "unsupported content type %q", contentType)
	}

	// Reject a declared oversize body before reading anything. Bodies
	// with a missing or lying content-length are caught while streaming.
	if resp.ContentLength > f.maxBytes {
		return FetchResult{}, Failuref(FailureTooLarge, "image is %d bytes, limit is %d bytes", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return FetchResult{}, classifyTransportError(err)
	}
	if int64(len(data)) > f.maxBytes {
		return FetchResult{}, Failuref(FailureTooLarge, "image exceeds the %d byte download limit", f.maxBytes)
	}

	return FetchResult{
		Data:      data,
		Extension: f.resolveExtension(parsed, mediaType),
	}, nil
}

func (f *Fetcher) resolveExtension(u *url.URL, mediaType string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if f.extensions[ext] {
		return ext
	}
	if ext, ok := extByMIME[mediaType]; ok && f.allowedMIME[mediaType] {
		return ext
	}
	return "jpg"
}

func classifyTransportError(err error) *Failure {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapFailure(FailureTimeout, err, "download timed out")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapFailure(FailureTimeout, err, "download timed out")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return wrapFailure(FailureTimeout, err, "download timed out")
	}

	return wrapFailure(FailureTransport, err, "could not download image")
}
