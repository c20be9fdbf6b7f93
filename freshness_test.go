package offlinecache

import (
	"net/http"
	"testing"
	"time"

	"github.com/science-analyse/banking-assistant-sub001/cache"
)

func TestFreshnessUsesPutTime(t *testing.T) {
	res := &http.Response{Header: http.Header{}}
	entry := cache.CacheEntry{StoredAt: time.Now().Add(-time.Minute)}
	if !isFresh(res, entry, 5*time.Minute, time.Now()) {
		t.Fatal("Entry within maxAge should be fresh")
	}
	if isFresh(res, entry, 30*time.Second, time.Now()) {
		t.Fatal("Entry older than maxAge should be stale")
	}
}

func TestFreshnessPrefersRecordedResponseTimestamp(t *testing.T) {
	now := time.Now()
	res := &http.Response{Header: http.Header{}}
	res.Header.Set("Date", now.Add(-2*time.Hour).UTC().Format(http.TimeFormat))
	// the put happened just now, but the response itself is two hours old
	entry := cache.CacheEntry{StoredAt: now}
	if isFresh(res, entry, time.Hour, now) {
		t.Fatal("Recorded response timestamp should win over put time")
	}
}

func TestFreshnessZeroMaxAgeNeverFresh(t *testing.T) {
	res := &http.Response{Header: http.Header{}}
	entry := cache.CacheEntry{StoredAt: time.Now()}
	if isFresh(res, entry, 0, time.Now()) {
		t.Fatal("Zero maxAge must never count as fresh")
	}
}
