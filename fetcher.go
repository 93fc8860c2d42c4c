package swcache

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"
	tee "github.com/always-cache/sw-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog/log"
)

// ErrTransport is wrapped by every error returned from Fetch.
// HTTP error statuses are not errors.
var ErrTransport = errors.New("transport failure")

// Credentials selects which credentials are sent to the origin.
type Credentials int

const (
	// Cookies and authorization are stripped, and cookies set by the
	// origin are dropped.
	CredentialsOmit Credentials = iota
	CredentialsSameOrigin
	CredentialsInclude
)

// RedirectMode selects how redirects from the origin are handled.
type RedirectMode int

const (
	RedirectFollow RedirectMode = iota
	// Redirects are not followed; they surface as opaque redirects.
	RedirectManual
)

// Directives configure a single origin request.
type Directives struct {
	Method      string
	Header      http.Header
	Body        []byte
	Credentials Credentials
	// Bypass intermediate caches.
	NoStore  bool
	Redirect RedirectMode
}

// FetchResult is a fully read origin response.
type FetchResult struct {
	Response serializer.StoredResponse
	// The origin redirected and Redirect was RedirectManual.
	// The redirect target is not exposed.
	OpaqueRedirect bool
}

// Ok reports a 2xx response that is not an opaque redirect.
func (r FetchResult) Ok() bool {
	return !r.OpaqueRedirect && r.Response.Ok()
}

// Fetcher performs requests against the origin.
type Fetcher struct {
	originURL  string
	originHost string
	follow     *http.Client
	manual     *http.Client
}

// NewFetcher creates a fetcher for the origin.
// The transport is optional; use tee.HandlerTransport to target an in-process handler.
func NewFetcher(originURL url.URL, originHost string, transport http.RoundTripper) *Fetcher {
	if transport == nil && originHost != "" {
		// use provided hostname for TLS negotiation, e.g. if the origin URL is an IP address
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &Fetcher{
		originURL:  strings.TrimSuffix(originURL.String(), "/"),
		originHost: originHost,
		follow:     &http.Client{Transport: transport},
		manual: &http.Client{
			Transport: transport,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewHandlerFetcher creates a fetcher whose origin is an http.Handler.
func NewHandlerFetcher(handler http.Handler) *Fetcher {
	origin, _ := url.Parse("http://origin.internal")
	return NewFetcher(*origin, "", tee.HandlerTransport{Handler: handler})
}

// Fetch requests the URI (path and query) from the origin.
func (f *Fetcher) Fetch(ctx context.Context, uri string, d Directives) (FetchResult, error) {
	var result FetchResult
	method := d.Method
	if method == "" {
		method = http.MethodGet
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	target := f.originURL + uri
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return result, fmt.Errorf("%w: create request for %s: %v", ErrTransport, target, err)
	}
	if f.originHost != "" {
		req.Host = f.originHost
	}
	copyHeader(req.Header, d.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	// let the transport negotiate compression so stored bodies are plain
	req.Header.Del("Accept-Encoding")
	if d.Credentials == CredentialsOmit {
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}
	if d.NoStore {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	client := f.follow
	if d.Redirect == RedirectManual {
		client = f.manual
	}
	log.Trace().Str("method", method).Str("url", target).Msg("Fetching from origin")
	res, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	sRes, err := serializer.Capture(res)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if d.Credentials == CredentialsOmit {
		sRes.Header.Del("Set-Cookie")
	}
	result.Response = sRes
	result.OpaqueRedirect = d.Redirect == RedirectManual && isRedirect(sRes.StatusCode)
	return result, nil
}

func isRedirect(statusCode int) bool {
	if statusCode == 301 ||
		statusCode == 302 ||
		statusCode == 303 ||
		statusCode == 307 ||
		statusCode == 308 {
		return true
	}
	return false
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
