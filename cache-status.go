package offlinecache

import "fmt"

// CacheStatus describes how the gateway handled a request. It is attached
// to every response as a Cache-Status header (RFC 9211 shape) so callers
// can distinguish live answers from cache hits, stale fallbacks, and
// synthesized offline content.

type FwdReason string

const (
	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any response that matched the request URI.
	FwdReasonMiss FwdReason = "uri-miss"

	// The cache contained a response for the request, but it was stale.
	FwdReasonStale FwdReason = "stale"

	// The matched strategy forwards to the network before the cache.
	FwdReasonRequest FwdReason = "request"

	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
)

const (
	// DetailFallback marks a stale cached answer served because the
	// network failed; callers can branch on it.
	DetailFallback = "fallback"
	// DetailSynthetic marks a response synthesized by the offline
	// responder.
	DetailSynthetic = "synthetic"
	// DetailRevalidating marks a stale answer served while a background
	// refetch is in flight.
	DetailRevalidating = "revalidating"
)

type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	detail    string
}

// Hit marks the response as served fresh from cache.
func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

// Forward marks the response as forwarded to (or attempted against) the
// network for the given reason.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs CacheStatus) IsHit() bool {
	return cs.hit
}

func (cs CacheStatus) String() string {
	status := "offline-gateway; "
	if cs.hit {
		status += "hit"
	} else {
		status += fmt.Sprintf("fwd=%s", cs.fwdReason)
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}
