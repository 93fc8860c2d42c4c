package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Sw-Stored-At"

// StoredResponse is a fully materialized response.
// Unlike an http.Response its body can be read any number of times.
type StoredResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock when the response was written to the cache.
	// Zero for responses that never went through the cache.
	StoredAt time.Time
}

// Ok reports whether the status is in the 2xx range.
func (s StoredResponse) Ok() bool {
	return s.StatusCode >= 200 && s.StatusCode <= 299
}

// Capture reads the whole body of res and closes it.
func Capture(res *http.Response) (StoredResponse, error) {
	sRes := StoredResponse{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
	}
	if sRes.Header == nil {
		sRes.Header = http.Header{}
	}
	if res.Body == nil {
		return sRes, nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, fmt.Errorf("read response body: %w", err)
	}
	sRes.Body = body
	return sRes, nil
}

// Response builds an http.Response backed by a copy of the stored body.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the response,
// with the storage time recorded in an extra header.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response(nil)
	if res.Header == nil {
		res.Header = http.Header{}
	}
	storedAt := sRes.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.Unix(), 10))
	// the length is always known, never chunk
	res.TransferEncoding = nil
	res.Header.Del("Transfer-Encoding")
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes created by StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return StoredResponse{}, fmt.Errorf("read stored response: %w", err)
	}
	sRes, err := Capture(res)
	if err != nil {
		return sRes, err
	}
	if storedAt, err := strconv.ParseInt(sRes.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	sRes.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// Write sends the response to the client.
func (s StoredResponse) Write(w http.ResponseWriter) error {
	copyHeader(w.Header(), s.Header)
	if len(s.Body) == 0 {
		w.WriteHeader(s.StatusCode)
		return nil
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(s.Body)))
	w.WriteHeader(s.StatusCode)
	_, err := w.Write(s.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// length is recomputed from the materialized body
		if k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
