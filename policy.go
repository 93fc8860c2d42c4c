package swcache

import (
	"context"
	"time"

	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/sw-cache/pkg/cache-status"
	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"
)

// Policy selects how cache and network are combined for one request.
type Policy int

const (
	// Serve from cache when present, else network, storing the result.
	CacheFirst Policy = iota
	// Try the network, fall back to the cache. Storing is left to the caller.
	NetworkFirst
	// Network only, storing ok responses.
	NetworkThenCache
	// Network only.
	NetworkOnly
)

func (p Policy) String() string {
	switch p {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case NetworkThenCache:
		return "network-then-cache"
	case NetworkOnly:
		return "network-only"
	}
	return "unknown"
}

func (p Policy) checksCacheFirst() bool {
	return p == CacheFirst
}

func (p Policy) checksCacheLast() bool {
	return p == NetworkFirst
}

func (p Policy) storesResponse() bool {
	return p == CacheFirst || p == NetworkThenCache
}

// outcome is what safeRequest produced.
type outcome struct {
	res         serializer.StoredResponse
	opaque      bool
	fromNetwork bool
	status      cachestatus.CacheStatus
}

// safeRequest resolves a request under the policy.
// The network is only used while the session is online, and only ok
// responses and opaque redirects from the network are accepted.
// It reports false when neither source produced a usable response.
func (w *Worker) safeRequest(ctx context.Context, key, uri string, policy Policy, d Directives) (outcome, bool) {
	var out outcome
	if policy.checksCacheFirst() {
		if res, ok := w.lookup(key); ok {
			out.res = res
			out.status.Hit()
			return out, true
		}
	}

	if w.session.Online() {
		result, err := w.fetcher.Fetch(ctx, uri, d)
		if err != nil {
			w.log.Debug().Err(err).Str("uri", uri).Str("policy", policy.String()).Msg("Network request failed")
		} else if result.Ok() || result.OpaqueRedirect {
			out.res = result.Response
			out.opaque = result.OpaqueRedirect
			out.fromNetwork = true
			if policy == CacheFirst {
				out.status.Forward(cachestatus.FwdUriMiss)
			} else {
				out.status.Forward(cachestatus.FwdBypass)
			}
			if policy.storesResponse() && result.Ok() {
				out.status.Stored = w.put(key, out.res) == nil
			}
			return out, true
		} else {
			w.log.Debug().Int("status", result.Response.StatusCode).Str("uri", uri).Msg("Network response not usable")
		}
	}

	if policy.checksCacheLast() {
		if res, ok := w.lookup(key); ok {
			out.res = res
			out.status.Hit()
			out.status.SetDetail(cachestatus.DetailOffline)
			return out, true
		}
	}

	return out, false
}

// lookup returns the stored response for the key in the current generation.
// Unreadable entries are purged and reported as misses.
func (w *Worker) lookup(key string) (serializer.StoredResponse, bool) {
	b, ok, err := w.store.Get(key)
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		w.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return serializer.StoredResponse{}, false
	}
	if !ok {
		return serializer.StoredResponse{}, false
	}
	res, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		cacheErrors.WithLabelValues("decode").Inc()
		w.log.Warn().Err(err).Str("key", key).Msg("Purging unreadable cache entry")
		w.purge(key)
		return serializer.StoredResponse{}, false
	}
	return res, true
}

// put stores the response under the key in the current generation.
func (w *Worker) put(key string, res serializer.StoredResponse) error {
	if res.StoredAt.IsZero() {
		res.StoredAt = time.Now()
	}
	b, err := serializer.StoredResponseToBytes(res)
	if err == nil {
		err = w.store.Put(key, b)
	}
	if err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		w.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return err
	}
	w.log.Trace().Str("key", key).Int("status", res.StatusCode).Msg("Wrote to cache")
	return nil
}

func (w *Worker) purge(key string) {
	if err := w.store.Purge(key); err != nil {
		cacheErrors.WithLabelValues("purge").Inc()
		w.log.Error().Err(err).Str("key", key).Msg("Could not purge cache entry")
	}
}

// cached looks up the first of the paths present in the cache.
func (w *Worker) cached(paths ...string) (serializer.StoredResponse, bool) {
	for _, p := range paths {
		if res, ok := w.lookup(cachekey.KeyForPath(p)); ok {
			return res, true
		}
	}
	return serializer.StoredResponse{}, false
}
