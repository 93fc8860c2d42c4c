package tee

import (
	"bytes"
	"io"
	"net/http"
)

// HandlerTransport is an http.RoundTripper that serves requests with an
// in-process handler instead of the network.
// It lets the worker sit in front of an http.Handler as middleware.
type HandlerTransport struct {
	Handler http.Handler
}

func (h HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rw := NewResponseSaver(nil)
	// handlers expect server side requests
	serverReq := req.Clone(req.Context())
	serverReq.RequestURI = req.URL.RequestURI()
	if serverReq.Body == nil {
		serverReq.Body = http.NoBody
	}
	h.Handler.ServeHTTP(rw, serverReq)
	return rw.HTTPResponse(req)
}

func newBody(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
