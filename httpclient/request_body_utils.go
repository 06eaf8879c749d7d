/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-callthrottle/log"
)

// readRequestBody reads the whole request body so it can be hashed and replayed on retries.
// GetBody is preferred when available, so the original body is left for the caller.
func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("get request body: %w", err)
		}
		body = fresh
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

// newBodyReader returns a fresh reader for every attempt.
func newBodyReader(data []byte) io.ReadCloser {
	if data == nil {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(data))
}

// DefaultCredentialHeaders are the request headers whose values are part of the request key,
// so callers using different credentials for the same URL never share a response.
var DefaultCredentialHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie", "X-Api-Key", "X-Auth-Token"}

// DefaultRequestKey identifies identical requests: method, full URL and a digest of the body
// and of DefaultCredentialHeaders.
func DefaultRequestKey(req *http.Request, body []byte) string {
	return NewRequestKeyFunc(DefaultCredentialHeaders...)(req, body)
}

// NewRequestKeyFunc returns a RequestKeyFunc that digests the body together with the values of the given headers.
func NewRequestKeyFunc(credentialHeaders ...string) RequestKeyFunc {
	return func(req *http.Request, body []byte) string {
		key := req.Method + " " + req.URL.String()
		h := sha256.New()
		digested := false
		for _, name := range credentialHeaders {
			for _, v := range req.Header.Values(name) {
				_, _ = fmt.Fprintf(h, "%s:%d:%s\n", http.CanonicalHeaderKey(name), len(v), v)
				digested = true
			}
		}
		if len(body) > 0 {
			_, _ = h.Write(body)
			digested = true
		}
		if !digested {
			return key
		}
		return key + " " + hex.EncodeToString(h.Sum(nil))
	}
}

// readResponseBody reads at most limit bytes of the response body and closes it.
func readResponseBody(resp *http.Response, limit int64) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// drainResponseBody reads and discards the entire response body to allow connection reuse.
func drainResponseBody(resp *http.Response, logger log.FieldLogger) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close response body", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.Error("failed to discard response body", log.Error(err))
	}
}
