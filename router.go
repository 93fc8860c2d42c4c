package swcache

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	cachestatus "github.com/always-cache/sw-cache/pkg/cache-status"
	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"
)

// notFoundHeader is set by the origin on pages that render a missing resource.
// Such pages are never kept in the cache.
const notFoundHeader = "X-Not-Found"

// Route labels used in logs and metrics.
const (
	routeAPI         = "api"
	routeLogin       = "login"
	routeLogout      = "logout"
	routeAddPost     = "add-post"
	routePage        = "page"
	routeAsset       = "asset"
	routePassthrough = "passthrough"
)

// reply is a routed response and how it was produced.
type reply struct {
	res    serializer.StoredResponse
	status cachestatus.CacheStatus
	route  string
}

// ServeHTTP implements the http.Handler interface.
// Every same-origin request is answered, with a synthesized 404 as last resort.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.sameOrigin(r) {
		routerResponses.WithLabelValues(routePassthrough, "network").Inc()
		w.passthrough.ServeHTTP(rw, r)
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error().Interface("panic", rec).Str("url", r.URL.String()).Msg("Recovered from panic in router")
			w.send(rw, r, notFound(routePage))
		}
	}()
	w.send(rw, r, w.route(r))
}

func (w *Worker) route(r *http.Request) reply {
	ctx := r.Context()
	key := w.keyer.GetKey(r)
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, w.routes.APIPrefix) && len(path) > len(w.routes.APIPrefix):
		return w.routeAPI(ctx, r, key)
	case acceptsHTML(r):
		switch path {
		case w.routes.Login:
			return w.routeLogin(ctx, r, key)
		case w.routes.Logout:
			return w.routeLogout(ctx, r, key)
		case w.routes.AddPost:
			return w.routeAddPost(ctx, r, key)
		}
		return w.routePage(ctx, r, key)
	}
	return w.routeAsset(ctx, r, key)
}

// routeAPI forwards the request as is and keeps a copy of successful reads.
func (w *Worker) routeAPI(ctx context.Context, r *http.Request, key string) reply {
	d := reuseRequest(r, readBody(r))
	policy := NetworkFirst
	if !isRead(r.Method) {
		policy = NetworkOnly
	}
	out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), policy, d)
	if !ok {
		return notFound(routeAPI)
	}
	if out.fromNetwork && out.res.Ok() {
		if r.Method == http.MethodGet {
			out.status.Stored = w.put(key, out.res) == nil
		} else {
			if r.URL.Path == w.routes.CreatePost {
				w.clearDraft(ctx)
			}
			w.applyCacheUpdates(r, out.res.Header)
		}
	}
	return fromOutcome(routeAPI, out)
}

func (w *Worker) routeLogin(ctx context.Context, r *http.Request, key string) reply {
	status := w.session.Snapshot()
	if !status.Online {
		if status.LoggedIn {
			return redirect(routeLogin, w.routes.AddPost)
		}
		return w.cachedOrOffline(routeLogin, w.routes.Login)
	}

	d := reuseRequest(r, readBody(r))
	d.Redirect = RedirectManual
	if out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), NetworkOnly, d); ok {
		if out.opaque {
			return redirect(routeLogin, w.routes.AddPost)
		}
		return fromOutcome(routeLogin, out)
	}
	if w.session.LoggedIn() {
		return redirect(routeLogin, w.routes.AddPost)
	}
	if res, ok := w.cached(w.routes.Login); ok {
		return hit(routeLogin, res)
	}
	return redirect(routeLogin, w.routes.Home)
}

func (w *Worker) routeLogout(ctx context.Context, r *http.Request, key string) reply {
	if !w.session.Online() {
		if w.session.LoggedIn() {
			w.forceLogout()
		}
		return redirect(routeLogout, w.routes.Home)
	}

	d := reuseRequest(r, readBody(r))
	d.Redirect = RedirectManual
	if out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), NetworkOnly, d); ok {
		if out.opaque {
			return redirect(routeLogout, w.routes.Home)
		}
		return fromOutcome(routeLogout, out)
	}
	if w.session.LoggedIn() {
		w.forceLogout()
	}
	return redirect(routeLogout, w.routes.Home)
}

func (w *Worker) routeAddPost(ctx context.Context, r *http.Request, key string) reply {
	status := w.session.Snapshot()
	if !status.Online {
		if status.LoggedIn {
			return w.cachedOrOffline(routeAddPost, w.routes.AddPost)
		}
		return w.cachedOrOffline(routeAddPost, w.routes.Login)
	}

	d := reuseRequest(r, readBody(r))
	d.Redirect = RedirectManual
	policy := NetworkThenCache
	if !isRead(r.Method) {
		policy = NetworkOnly
	}
	if out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), policy, d); ok {
		if out.opaque {
			return redirect(routeAddPost, w.routes.Login)
		}
		return fromOutcome(routeAddPost, out)
	}
	fallback := w.routes.Login
	if w.session.LoggedIn() {
		fallback = w.routes.AddPost
	}
	if res, ok := w.cached(fallback); ok {
		return hit(routeAddPost, res)
	}
	return redirect(routeAddPost, w.routes.Home)
}

// routePage serves other pages from the network first, keeping the cache
// in step with what the origin returned.
func (w *Worker) routePage(ctx context.Context, r *http.Request, key string) reply {
	policy := NetworkFirst
	if !isRead(r.Method) {
		policy = NetworkOnly
	}
	out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), policy, rebuildRequest(r))
	if !ok {
		return w.offlineOrNotFound(routePage)
	}
	if out.fromNetwork && out.res.Ok() && r.Method == http.MethodGet {
		if out.res.Header.Get(notFoundHeader) != "" {
			w.purge(key)
		} else {
			out.status.Stored = w.put(key, out.res) == nil
		}
	}
	return fromOutcome(routePage, out)
}

func (w *Worker) routeAsset(ctx context.Context, r *http.Request, key string) reply {
	policy := CacheFirst
	if r.Method != http.MethodGet {
		policy = NetworkOnly
	}
	out, ok := w.safeRequest(ctx, key, r.URL.RequestURI(), policy, rebuildRequest(r))
	if !ok {
		return notFound(routeAsset)
	}
	return fromOutcome(routeAsset, out)
}

// cachedOrOffline serves the cached path, the cached offline page or a 404.
func (w *Worker) cachedOrOffline(route, path string) reply {
	if res, ok := w.cached(path); ok {
		return hit(route, res)
	}
	return w.offlineOrNotFound(route)
}

func (w *Worker) offlineOrNotFound(route string) reply {
	if res, ok := w.cached(w.routes.Offline); ok {
		rep := hit(route, res)
		rep.status.SetDetail(cachestatus.DetailOffline)
		return rep
	}
	return notFound(route)
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, rep reply) {
	source := "network"
	switch {
	case rep.status.IsHit():
		source = "cache"
	case rep.status.Detail == cachestatus.DetailSynthesized:
		source = "synthesized"
	}
	routerResponses.WithLabelValues(rep.route, source).Inc()

	rw.Header().Set(cachestatus.HeaderName, rep.status.String())
	if err := rep.res.Write(rw); err != nil {
		w.log.Error().Err(err).Msg("Could not write response to client")
	}
	w.logRequest(r, rep)
}

func (w *Worker) logRequest(r *http.Request, rep reply) {
	isHit := 0
	if rep.status.IsHit() {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("route", rep.route).
		Int("code", rep.res.StatusCode).
		Str("status", string(rep.status.Status)).
		Str("fwd", string(rep.status.FwdReason)).
		Bool("stored", rep.status.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func fromOutcome(route string, out outcome) reply {
	return reply{res: out.res, status: out.status, route: route}
}

func hit(route string, res serializer.StoredResponse) reply {
	rep := reply{res: res, route: route}
	rep.status.Hit()
	return rep
}

func redirect(route, location string) reply {
	rep := reply{
		res: serializer.StoredResponse{
			StatusCode: http.StatusTemporaryRedirect,
			Header:     http.Header{"Location": []string{location}},
		},
		route: route,
	}
	rep.status.SetDetail(cachestatus.DetailSynthesized)
	return rep
}

func notFound(route string) reply {
	rep := reply{
		res: serializer.StoredResponse{
			StatusCode: http.StatusNotFound,
			Header:     http.Header{},
		},
		route: route,
	}
	rep.status.SetDetail(cachestatus.DetailSynthesized)
	return rep
}

// reuseRequest forwards method, headers and body of the incoming request.
func reuseRequest(r *http.Request, body []byte) Directives {
	return Directives{
		Method:      r.Method,
		Header:      r.Header,
		Body:        body,
		Credentials: CredentialsSameOrigin,
		NoStore:     true,
	}
}

// rebuildRequest forwards method and headers only.
func rebuildRequest(r *http.Request) Directives {
	return Directives{
		Method:      r.Method,
		Header:      r.Header,
		Credentials: CredentialsSameOrigin,
		NoStore:     true,
	}
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil
	}
	return body
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// acceptsHTML reports whether the client asked for an HTML document.
func acceptsHTML(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/html" {
			return true
		}
	}
	return false
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
