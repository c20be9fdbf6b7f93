package offlinecache

import (
	"net/http"
	"time"

	"github.com/science-analyse/banking-assistant-sub001/cache"
)

// storedTimestamp returns the moment the stored response was produced:
// the response's own Date header when present and parseable, otherwise
// the time the entry was put into the cache.
func storedTimestamp(res *http.Response, entry cache.CacheEntry) time.Time {
	if date := res.Header.Get("Date"); date != "" {
		if t, err := http.ParseTime(date); err == nil {
			return t
		}
	}
	return entry.StoredAt
}

// isFresh reports whether a stored response is still usable without
// consulting the network: its age must be below the rule's maxAge.
// A zero maxAge means entries are never fresh.
func isFresh(res *http.Response, entry cache.CacheEntry, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(storedTimestamp(res, entry)) < maxAge
}
