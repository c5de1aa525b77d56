package httpcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Response is the cached form of an upstream HTTP response
type Response struct {
	StatusCode  int         `json:"status_code"`
	Headers     http.Header `json:"headers"`
	Body        []byte      `json:"body"`
	ContentType string      `json:"content_type"`
}

// FromHTTP reads resp into a Response. The body of resp is restored so it can
// still be sent to the client.
func FromHTTP(resp *http.Response) (*Response, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if err := resp.Body.Close(); err != nil {
			return nil, fmt.Errorf("failed to close response body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// FromHTTPLimited reads resp into a Response unless its body is longer than
// limit bytes, in which case it returns nil. At most limit+1 bytes are
// buffered, and the body of resp is always restored so it streams to the
// client unchanged.
func FromHTTPLimited(resp *http.Response, limit int64) (*Response, error) {
	if resp.Body == nil {
		return FromHTTP(resp)
	}

	original := resp.Body
	prefix, err := io.ReadAll(io.LimitReader(original, limit+1))
	if err != nil || int64(len(prefix)) > limit {
		resp.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(prefix), original), Closer: original}
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return nil, nil
	}

	// The whole body fit in prefix
	if err := original.Close(); err != nil {
		return nil, fmt.Errorf("failed to close response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(prefix))

	return &Response{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		Body:        prefix,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// prefixedBody replays the bytes already read before the rest of the body
type prefixedBody struct {
	io.Reader
	io.Closer
}

// HTTP rebuilds an *http.Response answering req
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := r.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if r.ContentType != "" {
		header.Set("Content-Type", r.ContentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Serialize encodes the response as a cache payload
func Serialize(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// Deserialize decodes a cache payload
func Deserialize(b []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	if resp.StatusCode == 0 {
		return nil, fmt.Errorf("failed to deserialize response: missing status code")
	}
	return &resp, nil
}
