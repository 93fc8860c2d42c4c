package swcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestFetcherCredentials(t *testing.T) {
	var header http.Header
	f := NewHandlerFetcher(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
	}))
	in := http.Header{
		"Cookie":          []string{"session=abc"},
		"Authorization":   []string{"Bearer x"},
		"X-Forwarded-For": []string{"10.0.0.1"},
		"Accept":          []string{"text/html"},
	}

	f.Fetch(context.Background(), "/", Directives{Header: in, Credentials: CredentialsSameOrigin})
	if header.Get("Cookie") != "session=abc" || header.Get("Authorization") != "Bearer x" {
		t.Fatalf("Same-origin request headers are %v", header)
	}
	if header.Get("X-Forwarded-For") != "" {
		t.Fatal("Forwarding header was copied")
	}

	f.Fetch(context.Background(), "/", Directives{Header: in, Credentials: CredentialsOmit})
	if header.Get("Cookie") != "" || header.Get("Authorization") != "" {
		t.Fatalf("Credential-less request headers are %v", header)
	}
	if header.Get("Accept") != "text/html" {
		t.Fatal("Other headers were dropped")
	}
	if in.Get("Cookie") == "" {
		t.Fatal("Incoming headers were modified")
	}
}

func TestFetcherRedirectModes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/from" {
			http.Redirect(rw, r, "/to", http.StatusFound)
			return
		}
		rw.Write([]byte("arrived"))
	}))
	defer server.Close()
	origin, _ := url.Parse(server.URL)
	f := NewFetcher(*origin, "", nil)

	followed, err := f.Fetch(context.Background(), "/from", Directives{})
	if err != nil {
		t.Fatal(err)
	}
	if !followed.Ok() || string(followed.Response.Body) != "arrived" {
		t.Fatalf("Followed response is %d %s", followed.Response.StatusCode, followed.Response.Body)
	}

	manual, err := f.Fetch(context.Background(), "/from", Directives{Redirect: RedirectManual})
	if err != nil {
		t.Fatal(err)
	}
	if !manual.OpaqueRedirect || manual.Ok() {
		t.Fatalf("Manual response is %+v", manual)
	}
}

func TestFetcherNoStore(t *testing.T) {
	var header http.Header
	f := NewHandlerFetcher(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
	}))

	f.Fetch(context.Background(), "/", Directives{NoStore: true})
	if header.Get("Cache-Control") != "no-cache" || header.Get("Pragma") != "no-cache" {
		t.Fatalf("Headers are %v", header)
	}
}

func TestFetcherErrorStatusIsNotAnError(t *testing.T) {
	f := NewHandlerFetcher(http.NotFoundHandler())

	res, err := f.Fetch(context.Background(), "/missing", Directives{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ok() || res.Response.StatusCode != http.StatusNotFound {
		t.Fatalf("Response is %+v", res)
	}
}

func TestFetcherTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	origin, _ := url.Parse(server.URL)
	server.Close()

	_, err := NewFetcher(*origin, "", nil).Fetch(context.Background(), "/", Directives{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Error is %v", err)
	}
}

func TestFetcherForwardsMethodAndBody(t *testing.T) {
	var method, got string
	f := NewHandlerFetcher(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))

	f.Fetch(context.Background(), "/api/add-post", Directives{Method: "POST", Body: []byte("payload")})
	if method != "POST" || got != "payload" {
		t.Fatalf("Origin saw %s %s", method, got)
	}
}
