package swcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/sw-cache/cache"
	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"
	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// hitCounter counts origin requests per path.
type hitCounter struct {
	mutex sync.Mutex
	hits  map[string]int
}

func (h *hitCounter) count(r *http.Request) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.hits == nil {
		h.hits = make(map[string]int)
	}
	h.hits[r.URL.Path]++
}

func (h *hitCounter) get(path string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.hits[path]
}

func newTestWorker(t *testing.T, origin http.Handler, configure func(*Config)) *Worker {
	t.Helper()
	logger := zerolog.Nop()
	config := Config{
		Cache:         cache.NewMemCache(),
		OriginHandler: origin,
		Version:       2,
		SettleDelay:   -1,
		Session:       pagechannel.Status{Online: true},
		Logger:        &logger,
	}
	if configure != nil {
		configure(&config)
	}
	w := CreateWorker(config)
	t.Cleanup(w.Close)
	return w
}

func seed(t *testing.T, w *Worker, path, body string) {
	t.Helper()
	err := w.put(cachekey.KeyForPath(path), serializer.StoredResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func page(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	return r
}

func asset(target string) *http.Request {
	r := httptest.NewRequest("GET", target, nil)
	r.Header.Set("Accept", "*/*")
	return r
}

func serve(w *Worker, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, r)
	return rr
}

func body(rr *httptest.ResponseRecorder) string {
	b, _ := io.ReadAll(rr.Result().Body)
	return string(b)
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAssetIsServedFromCacheAfterFirstRequest(t *testing.T) {
	var hits hitCounter
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.count(r)
		rw.Header().Set("Content-Type", "text/css")
		rw.Write([]byte("body {}"))
	}), nil)

	first := serve(w, asset("/css/style.css"))
	if cs := first.Header().Get("Cache-Status"); cs != "SW-Cache; fwd=uri-miss; stored" {
		t.Fatalf("First Cache-Status is %s", cs)
	}
	second := serve(w, asset("/css/style.css"))
	if hits.get("/css/style.css") != 1 {
		t.Fatalf("Origin called %d times", hits.get("/css/style.css"))
	}
	if body(second) != "body {}" {
		t.Fatalf("Body is %s", body(second))
	}
	if ct := second.Header().Get("Content-Type"); ct != "text/css" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if cs := second.Header().Get("Cache-Status"); cs != "SW-Cache; hit" {
		t.Fatalf("Second Cache-Status is %s", cs)
	}
}

func TestAssetMissWhileOfflineIsNotFound(t *testing.T) {
	var hits hitCounter
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.count(r)
	}), func(c *Config) {
		c.Session.Online = false
	})

	rr := serve(w, asset("/images/logo.gif"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Status is %d", rr.Code)
	}
	if hits.get("/images/logo.gif") != 0 {
		t.Fatal("Origin was called while offline")
	}
	if cs := rr.Header().Get("Cache-Status"); !strings.Contains(cs, "detail=synthesized") {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestPageFallsBackToCachedCopy(t *testing.T) {
	up := true
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !up {
			http.Error(rw, "down", http.StatusBadGateway)
			return
		}
		rw.Write([]byte("about page"))
	}), nil)

	if rr := serve(w, page("GET", "/about")); body(rr) != "about page" {
		t.Fatalf("Body is %s", body(rr))
	}
	up = false
	rr := serve(w, page("GET", "/about"))
	if rr.Code != http.StatusOK || body(rr) != "about page" {
		t.Fatalf("Fallback is %d %s", rr.Code, body(rr))
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "SW-Cache; hit; detail=offline" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestPageAlwaysPrefersNetworkWhileOnline(t *testing.T) {
	version := "one"
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(version))
	}), nil)

	serve(w, page("GET", "/"))
	version = "two"
	if rr := serve(w, page("GET", "/")); body(rr) != "two" {
		t.Fatalf("Body is %s", body(rr))
	}
	w.Session().SetOnline(false)
	if rr := serve(w, page("GET", "/")); body(rr) != "two" {
		t.Fatalf("Offline body is %s", body(rr))
	}
}

func TestPageOfflineServesOfflinePage(t *testing.T) {
	w := newTestWorker(t, http.NotFoundHandler(), func(c *Config) {
		c.Session.Online = false
	})

	if rr := serve(w, page("GET", "/post/42")); rr.Code != http.StatusNotFound {
		t.Fatalf("Status without offline page is %d", rr.Code)
	}
	seed(t, w, "/offline", "you are offline")
	rr := serve(w, page("GET", "/post/42"))
	if rr.Code != http.StatusOK || body(rr) != "you are offline" {
		t.Fatalf("Offline fallback is %d %s", rr.Code, body(rr))
	}
}

func TestPageMarkedNotFoundIsPurged(t *testing.T) {
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-Not-Found", "1")
		rw.Write([]byte("no such post"))
	}), nil)
	seed(t, w, "/post/7", "stale post")

	rr := serve(w, page("GET", "/post/7"))
	if body(rr) != "no such post" {
		t.Fatalf("Body is %s", body(rr))
	}
	if w.store.Has("/post/7") {
		t.Fatal("Page marked as not found is still cached")
	}
}

func TestAPIReadIsStoredAndUsedOffline(t *testing.T) {
	var hits hitCounter
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.count(r)
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`["a","b"]`))
	}), nil)

	if rr := serve(w, asset("/api/get-posts")); !strings.Contains(rr.Header().Get("Cache-Status"), "stored") {
		t.Fatalf("Cache-Status is %s", rr.Header().Get("Cache-Status"))
	}
	w.Session().SetOnline(false)
	rr := serve(w, asset("/api/get-posts"))
	if body(rr) != `["a","b"]` {
		t.Fatalf("Body is %s", body(rr))
	}
	if hits.get("/api/get-posts") != 1 {
		t.Fatalf("Origin called %d times", hits.get("/api/get-posts"))
	}
	if rr := serve(w, asset("/api/get-post?id=3")); rr.Code != http.StatusNotFound {
		t.Fatalf("Uncached API status is %d", rr.Code)
	}
}

type recordingDrafts struct {
	mutex   sync.Mutex
	cleared int
}

func (d *recordingDrafts) Clear(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cleared++
	return nil
}

func TestAddPostForwardsBodyAndClearsDraft(t *testing.T) {
	var received string
	drafts := &recordingDrafts{}
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = string(b)
		rw.WriteHeader(http.StatusCreated)
	}), func(c *Config) {
		c.Drafts = drafts
	})

	req := httptest.NewRequest("POST", "/api/add-post", strings.NewReader(`{"title":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(w, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Status is %d", rr.Code)
	}
	if received != `{"title":"hi"}` {
		t.Fatalf("Origin received %s", received)
	}
	if drafts.cleared != 1 {
		t.Fatalf("Draft cleared %d times", drafts.cleared)
	}
	if w.store.Has("/api/add-post") {
		t.Fatal("Write response was cached")
	}
}

func TestFailedAddPostKeepsDraft(t *testing.T) {
	drafts := &recordingDrafts{}
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "nope", http.StatusInternalServerError)
	}), func(c *Config) {
		c.Drafts = drafts
	})

	rr := serve(w, httptest.NewRequest("POST", "/api/add-post", strings.NewReader("{}")))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Status is %d", rr.Code)
	}
	if drafts.cleared != 0 {
		t.Fatal("Draft cleared after failed post")
	}
}

func TestDefaultDraftStoreNotifiesPages(t *testing.T) {
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}), nil)
	client := w.Hub().Register(true)

	serve(w, httptest.NewRequest("POST", "/api/add-post", strings.NewReader("{}")))
	select {
	case msg := <-client.Messages():
		if msg.Notice != pagechannel.NoticeClearDraft {
			t.Fatalf("Message is %+v", msg)
		}
	default:
		t.Fatal("Page was not told to clear its draft")
	}
}

func TestCacheUpdateHeaderRefreshesResource(t *testing.T) {
	posts := `["1"]`
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/add-post":
			posts = `["1","2"]`
			rw.Header().Set("Cache-Update", "/api/get-posts")
			rw.WriteHeader(http.StatusCreated)
		case "/api/get-posts":
			rw.Write([]byte(posts))
		default:
			rw.Write([]byte("post"))
		}
	}), nil)

	serve(w, asset("/api/get-posts"))
	serve(w, httptest.NewRequest("POST", "/api/add-post", strings.NewReader("{}")))

	eventually(t, func() bool {
		res, ok := w.lookup("/api/get-posts")
		return ok && string(res.Body) == `["1","2"]`
	}, "Catalog was not refreshed")
}

func TestCrossOriginRequestsPassThrough(t *testing.T) {
	var passed bool
	w := newTestWorker(t, http.NotFoundHandler(), func(c *Config) {
		c.Hosts = []string{"blog.example"}
		c.Passthrough = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			passed = true
			rw.Write([]byte("elsewhere"))
		})
	})

	rr := serve(w, asset("http://fonts.example/font.woff"))
	if !passed || body(rr) != "elsewhere" {
		t.Fatalf("Passthrough not used, body %s", body(rr))
	}
	passed = false
	serve(w, asset("http://blog.example/font.woff"))
	if passed {
		t.Fatal("Own host was passed through")
	}
}

func TestRouterRecoversFromPanics(t *testing.T) {
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), nil)

	rr := serve(w, page("GET", "/"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestEveryResponseHasCacheStatus(t *testing.T) {
	w := newTestWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("ok"))
	}), nil)

	for _, r := range []*http.Request{
		page("GET", "/"),
		page("GET", "/login"),
		page("GET", "/logout"),
		page("GET", "/add-post"),
		asset("/js/blog.js"),
		asset("/api/get-posts"),
	} {
		if rr := serve(w, r); rr.Header().Get("Cache-Status") == "" {
			t.Fatalf("No Cache-Status for %s", r.URL)
		}
	}
}
