package cachestatus

import "fmt"

// HeaderName is the response header carrying the status.
const HeaderName = "Cache-Status"

const cacheName = "SW-Cache"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The router was configured to send this request to the network first.
	FwdBypass = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod = "method"

	// The cache did not contain a response for the request URI.
	FwdUriMiss = "uri-miss"
)

// Detail values used by the router.
const (
	// The network could not be used and a fallback was served.
	DetailOffline = "offline"
	// The response was synthesized locally (redirect or not found).
	DetailSynthesized = "synthesized"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) SetDetail(detail string) {
	cs.Detail = detail
}

// IsHit reports whether the response was served from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := cacheName
	switch {
	case cs.Status == StatusHit:
		status += "; hit"
	case cs.Status == StatusFwd && cs.FwdReason != "":
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
