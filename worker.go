package swcache

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/always-cache/sw-cache/cache"
	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"

	"github.com/rs/zerolog"
)

// DefaultCachePrefix names the generations owned by the worker.
const DefaultCachePrefix = "ramblings"

// DefaultSettleDelay is the pause before each item fetch during a drain.
const DefaultSettleDelay = 5 * time.Second

// DefaultManifest lists the pages and assets needed to render the site offline.
func DefaultManifest() []string {
	return []string{
		"/",
		"/about",
		"/contact",
		"/404",
		"/login",
		"/offline",
		"/css/style.css",
		"/js/blog.js",
		"/js/home.js",
		"/js/login.js",
		"/js/add-post.js",
		"/images/logo.gif",
		"/images/offline.png",
	}
}

// Routes names the paths the router treats specially.
type Routes struct {
	// Requests below this prefix are API calls.
	APIPrefix string
	// API endpoint listing the ids of all content items.
	Catalog string
	// Content item pages live at ItemPrefix + id.
	ItemPrefix string
	// API endpoint creating a post.
	CreatePost string
	Home       string
	Login      string
	Logout     string
	AddPost    string
	Offline    string
}

func DefaultRoutes() Routes {
	return Routes{
		APIPrefix:  "/api/",
		Catalog:    "/api/get-posts",
		ItemPrefix: "/post/",
		CreatePost: "/api/add-post",
		Home:       "/",
		Login:      "/login",
		Logout:     "/logout",
		AddPost:    "/add-post",
		Offline:    "/offline",
	}
}

type Config struct {
	// Storage for cache generations.
	Cache cache.CacheProvider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Optional in-process origin. Takes precedence over OriginURL.
	OriginHandler http.Handler
	// Additional hostnames treated as the worker's own origin.
	Hosts []string
	// Generation number of this deployment.
	Version int
	// Prefix of owned generation names. Defaults to DefaultCachePrefix.
	CachePrefix string
	// Defaults to DefaultManifest.
	Manifest []string
	// Zero fields are taken from DefaultRoutes.
	Routes Routes
	// Defaults to DefaultSettleDelay. Use a negative value to disable the delay.
	SettleDelay time.Duration
	// Initial connectivity and authentication belief.
	Session pagechannel.Status
	// Page hub. A new one is created if nil.
	Hub *pagechannel.Hub
	// Receives draft clear requests after a post was created.
	// Defaults to notifying the controlled pages.
	Drafts DraftStore
	// Handles requests for other origins. Defaults to a plain reverse proxy.
	Passthrough http.Handler
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker intercepts requests for one origin and answers them from the
// network or from the current cache generation.
type Worker struct {
	cache       cache.CacheProvider
	keyer       cachekey.CacheKeyer
	store       cache.Handle
	fetcher     *Fetcher
	session     *Session
	hub         *pagechannel.Hub
	drafts      DraftStore
	routes      Routes
	manifest    []string
	settleDelay time.Duration
	hosts       map[string]bool
	passthrough http.Handler
	log         zerolog.Logger

	state    atomic.Int32
	draining atomic.Bool

	// background work is bound to this context
	ctx    context.Context
	cancel context.CancelFunc
}

// CreateWorker initializes the worker in the parsed state.
// No network or cache work is done until Install and Activate are called.
func CreateWorker(config Config) *Worker {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	prefix := config.CachePrefix
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	keyer := cachekey.NewCacheKeyer(prefix)
	generation := keyer.Generation(config.Version)

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("generation", generation).
		Logger()

	w := &Worker{
		cache:       config.Cache,
		keyer:       keyer,
		store:       cache.Open(config.Cache, generation),
		session:     NewSession(config.Session),
		hub:         config.Hub,
		drafts:      config.Drafts,
		routes:      withDefaultRoutes(config.Routes),
		manifest:    config.Manifest,
		settleDelay: config.SettleDelay,
		hosts:       make(map[string]bool),
		passthrough: config.Passthrough,
		log:         logger,
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	if w.hub == nil {
		w.hub = pagechannel.NewHub()
	}
	if w.drafts == nil {
		w.drafts = PageDrafts{Hub: w.hub}
	}
	if w.manifest == nil {
		w.manifest = DefaultManifest()
	}
	if w.settleDelay == 0 {
		w.settleDelay = DefaultSettleDelay
	}
	if w.passthrough == nil {
		w.passthrough = &httputil.ReverseProxy{Director: passthroughDirector}
	}

	if config.OriginHandler != nil {
		w.fetcher = NewHandlerFetcher(config.OriginHandler)
	} else {
		w.fetcher = NewFetcher(config.OriginURL, config.OriginHost, nil)
	}

	for _, host := range append([]string{config.OriginURL.Host, config.OriginHost}, config.Hosts...) {
		if host != "" {
			w.hosts[strings.ToLower(host)] = true
		}
	}

	return w
}

func withDefaultRoutes(r Routes) Routes {
	d := DefaultRoutes()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&r.APIPrefix, d.APIPrefix)
	fill(&r.Catalog, d.Catalog)
	fill(&r.ItemPrefix, d.ItemPrefix)
	fill(&r.CreatePost, d.CreatePost)
	fill(&r.Home, d.Home)
	fill(&r.Login, d.Login)
	fill(&r.Logout, d.Logout)
	fill(&r.AddPost, d.AddPost)
	fill(&r.Offline, d.Offline)
	return r
}

// Generation is the name of the current cache generation.
func (w *Worker) Generation() string {
	return w.store.Generation()
}

func (w *Worker) Session() *Session {
	return w.session
}

func (w *Worker) Hub() *pagechannel.Hub {
	return w.hub
}

// Close stops background prefetching. The cache provider is left open.
func (w *Worker) Close() {
	w.cancel()
}

// sameOrigin reports whether the request targets the worker's origin.
// Requests without a host in the URL always do.
func (w *Worker) sameOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return true
	}
	return w.hosts[strings.ToLower(r.URL.Host)]
}

func passthroughDirector(req *http.Request) {
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
	}
}
