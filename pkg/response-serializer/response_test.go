package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCaptureMaterializesBody(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}

	sRes, err := Capture(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(sRes.Body) != "This is the body" {
		t.Fatalf("Body: %s", sRes.Body)
	}
	// reading twice yields the same bytes
	for i := 0; i < 2; i++ {
		body, _ := io.ReadAll(sRes.Response(nil).Body)
		if string(body) != "This is the body" {
			t.Fatalf("Read %d body: %s", i, body)
		}
	}
}

func TestStoredResponseRoundTrip(t *testing.T) {
	body := []byte("binary\x00body\r\n\r\nwith separators")
	sRes := StoredResponse{
		StatusCode: 201,
		Header:     http.Header{},
		Body:       body,
		StoredAt:   time.Unix(1700000000, 0),
	}
	sRes.Header.Add("Test", "-ing")

	bts, err := StoredResponseToBytes(sRes)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
	if !bytes.Equal(res2.Body, body) {
		t.Fatalf("Body is %q", res2.Body)
	}
	if res2.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Header)
	}
	if res2.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Internal header leaked %+v", res2.Header)
	}
	if !res2.StoredAt.Equal(sRes.StoredAt) {
		t.Fatalf("StoredAt is %v", res2.StoredAt)
	}
}

func TestEmptyNotFoundRoundTrip(t *testing.T) {
	bts, err := StoredResponseToBytes(StoredResponse{StatusCode: http.StatusNotFound})
	if err != nil {
		t.Fatal(err)
	}
	res, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusNotFound || len(res.Body) != 0 {
		t.Fatalf("Got %d with %q", res.StatusCode, res.Body)
	}
	if res.Ok() {
		t.Fatal("404 reported as ok")
	}
}

func TestWriteToClient(t *testing.T) {
	sRes := StoredResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("hello")}
	sRes.Header.Set("Content-Type", "text/plain")
	sRes.Header.Set("Content-Length", "999")

	rr := httptest.NewRecorder()
	if err := sRes.Write(rr); err != nil {
		t.Fatal(err)
	}
	if rr.Code != 200 || rr.Body.String() != "hello" {
		t.Fatalf("Got %d %s", rr.Code, rr.Body.String())
	}
	if cl := rr.Header().Get("Content-Length"); cl != "5" {
		t.Fatalf("Content-Length is %s", cl)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type is %s", ct)
	}
}
