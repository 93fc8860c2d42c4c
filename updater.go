package swcache

import (
	"context"
	"net/http"
	"time"

	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	cacheupdate "github.com/always-cache/sw-cache/pkg/cache-update"
)

// applyCacheUpdates refreshes the resources listed by a write response.
// A refreshed catalog also resumes the drain so new items get stored.
func (w *Worker) applyCacheUpdates(r *http.Request, header http.Header) {
	for _, update := range cacheupdate.GetCacheUpdates(r, header) {
		update := update
		w.log.Trace().Str("update", update.Path).Msgf("Updating cache based on header")
		if update.Delay > 0 {
			go func() {
				if sleep(w.ctx, update.Delay) {
					w.refresh(w.ctx, update.Path)
				}
			}()
		} else {
			go w.refresh(w.ctx, update.Path)
		}
	}
}

// refresh stores a fresh copy of the path in the current generation.
func (w *Worker) refresh(ctx context.Context, path string) {
	if !w.session.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	d := Directives{Credentials: CredentialsSameOrigin, NoStore: true}
	result, err := w.fetcher.Fetch(ctx, path, d)
	if err != nil || !result.Ok() {
		w.log.Error().Err(err).Str("path", path).Int("status", result.Response.StatusCode).Msg("Could not save updates")
		return
	}
	w.put(cachekey.KeyForPath(path), result.Response)
	if path == w.routes.Catalog {
		w.startDrain(false)
	}
}
