package cache

import (
	"net/http"
)

const methodSeparator = ":"

// Key returns the cache key for a request: the method plus the request
// URI (path and query). Host and fragment never take part, so the same
// resource reached through different host spellings maps to one key.
func Key(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.RequestURI()
}
