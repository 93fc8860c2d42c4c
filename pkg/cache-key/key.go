package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

var ErrMalformedGeneration = errors.New("Malformed generation name")

const generationSeparator = "-"

// CacheKeyer names cache generations and derives cache keys from requests.
type CacheKeyer struct {
	// Prefix shared by all generations of this deployment, e.g. "ramblings".
	Prefix string
}

func NewCacheKeyer(prefix string) CacheKeyer {
	return CacheKeyer{Prefix: prefix}
}

// Generation returns the cache namespace name for the given version.
func (c CacheKeyer) Generation(version int) string {
	return c.Prefix + generationSeparator + strconv.Itoa(version)
}

// ParseGeneration returns the version encoded in a generation name.
// Names that were not created by this keyer result in ErrMalformedGeneration.
func (c CacheKeyer) ParseGeneration(name string) (int, error) {
	versionStr, found := strings.CutPrefix(name, c.Prefix+generationSeparator)
	if !found || versionStr == "" {
		return 0, fmt.Errorf("%w: %s", ErrMalformedGeneration, name)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || strconv.Itoa(version) != versionStr {
		return 0, fmt.Errorf("%w: %s", ErrMalformedGeneration, name)
	}
	return version, nil
}

// Owns reports whether the generation name belongs to this keyer.
func (c CacheKeyer) Owns(name string) bool {
	_, err := c.ParseGeneration(name)
	return err == nil
}

// GetKey returns the cache key for a request.
// Only the path and query are significant; the method is not part of the key
// since only reads are ever stored.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return NormalizeKey(r.URL)
}

// NormalizeKey cleans the path and sorts the query of a URL.
// The scheme, host and fragment are dropped.
func NormalizeKey(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean("/" + p)
	// keep trailing slashes, they address a different resource
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if u.RawQuery == "" {
		return cleaned
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return cleaned + "?" + u.RawQuery
	}
	return cleaned + "?" + query.Encode()
}

// KeyForPath normalizes a plain path string, such as a manifest entry.
func KeyForPath(p string) string {
	u, err := url.Parse(p)
	if err != nil {
		return p
	}
	return NormalizeKey(u)
}
