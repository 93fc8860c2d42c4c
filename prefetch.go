package swcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"
)

// ErrNoCatalog is returned when the catalog can be loaded neither from the
// network nor from the cache.
var ErrNoCatalog = errors.New("content catalog unavailable")

// errStopped ends a drain that lost connectivity or was cancelled.
var errStopped = errors.New("drain stopped")

// Identifier is a content item id. The catalog may list ids as JSON
// strings or numbers.
type Identifier string

func (id *Identifier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = Identifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or a number: %s", b)
	}
	*id = Identifier(n.String())
	return nil
}

// Prefetch stores the manifest and then drains the catalog.
func (w *Worker) Prefetch(ctx context.Context, force bool) {
	w.CacheManifest(ctx, force)
	w.Drain(ctx, force)
}

// CacheManifest stores every manifest entry not yet in the cache, or all
// of them when forced. Failed entries are left for a later pass.
// It returns the number of entries stored.
func (w *Worker) CacheManifest(ctx context.Context, force bool) int {
	d := Directives{Credentials: CredentialsOmit, NoStore: true}
	stored := 0
	for _, path := range w.manifest {
		if ctx.Err() != nil {
			break
		}
		key := cachekey.KeyForPath(path)
		if !force && w.store.Has(key) {
			prefetchItems.WithLabelValues("manifest", "skipped").Inc()
			continue
		}
		if !w.session.Online() {
			prefetchItems.WithLabelValues("manifest", "offline").Inc()
			continue
		}
		result, err := w.fetcher.Fetch(ctx, path, d)
		if err != nil || !result.Ok() {
			prefetchItems.WithLabelValues("manifest", "failed").Inc()
			w.log.Warn().Err(err).Str("path", path).Int("status", result.Response.StatusCode).Msg("Could not prefetch manifest entry")
			continue
		}
		if w.put(key, result.Response) == nil {
			prefetchItems.WithLabelValues("manifest", "stored").Inc()
			stored++
		}
	}
	w.log.Debug().Int("stored", stored).Int("entries", len(w.manifest)).Bool("force", force).Msg("Cached manifest")
	return stored
}

// Draining reports whether a drain is in progress.
func (w *Worker) Draining() bool {
	return w.draining.Load()
}

// Drain walks the catalog and stores every item page not yet cached, or
// all of them when forced. At most one drain runs at a time; Drain returns
// false without doing anything if another one is active.
// A drain stops when the session goes offline or ctx is done. Since cached
// items are skipped, a later drain resumes where the last one stopped.
func (w *Worker) Drain(ctx context.Context, force bool) bool {
	if !w.draining.CompareAndSwap(false, true) {
		w.log.Trace().Msg("Drain already in progress")
		return false
	}
	defer w.draining.Store(false)

	start := time.Now()
	fetched, err := w.drain(ctx, force)
	switch {
	case errors.Is(err, errStopped):
		w.log.Info().Int("fetched", fetched).Msg("Drain stopped, will resume later")
	case err != nil:
		w.log.Warn().Err(err).Msg("Drain aborted")
	default:
		w.log.Info().Int("fetched", fetched).Dur("took", time.Since(start)).Msg("Drain finished")
	}
	return true
}

// startDrain runs a drain in the background.
func (w *Worker) startDrain(force bool) {
	go w.Drain(w.ctx, force)
}

func (w *Worker) drain(ctx context.Context, force bool) (int, error) {
	ids, err := w.loadCatalog(ctx)
	if err != nil {
		return 0, err
	}
	fetched := 0
	for cursor := 0; cursor < len(ids); cursor++ {
		path := w.routes.ItemPrefix + string(ids[cursor])
		if !force && w.store.Has(cachekey.KeyForPath(path)) {
			prefetchItems.WithLabelValues("item", "skipped").Inc()
			continue
		}
		if !w.fetchItem(ctx, path) {
			return fetched, errStopped
		}
		fetched++
	}
	return fetched, nil
}

// fetchItem stores one item page, retrying while the session stays online.
// It reports false when the drain has to stop.
func (w *Worker) fetchItem(ctx context.Context, path string) bool {
	d := Directives{Credentials: CredentialsOmit, NoStore: true}
	for attempt := 1; ; attempt++ {
		if !sleep(ctx, w.settleDelay) {
			return false
		}
		if !w.session.Online() {
			prefetchItems.WithLabelValues("item", "offline").Inc()
			return false
		}
		result, err := w.fetcher.Fetch(ctx, path, d)
		if err == nil && result.Ok() {
			if w.put(cachekey.KeyForPath(path), result.Response) == nil {
				prefetchItems.WithLabelValues("item", "stored").Inc()
			}
			return true
		}
		prefetchItems.WithLabelValues("item", "failed").Inc()
		w.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("Could not prefetch item, retrying")
	}
}

// loadCatalog returns the item ids, from the network while online and from
// the cache otherwise.
func (w *Worker) loadCatalog(ctx context.Context) ([]Identifier, error) {
	key := cachekey.KeyForPath(w.routes.Catalog)
	if w.session.Online() {
		d := Directives{Credentials: CredentialsSameOrigin, NoStore: true}
		result, err := w.fetcher.Fetch(ctx, w.routes.Catalog, d)
		if err == nil && result.Ok() {
			ids, err := parseCatalog(result.Response)
			if err == nil {
				w.put(key, result.Response)
				return ids, nil
			}
			w.log.Warn().Err(err).Msg("Could not parse catalog from network")
		} else {
			w.log.Debug().Err(err).Msg("Could not fetch catalog, using cached copy")
		}
	}
	if res, ok := w.lookup(key); ok {
		return parseCatalog(res)
	}
	return nil, ErrNoCatalog
}

func parseCatalog(res serializer.StoredResponse) ([]Identifier, error) {
	var ids []Identifier
	if err := json.Unmarshal(res.Body, &ids); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return ids, nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
