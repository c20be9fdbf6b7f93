// Package offlinecache is a resource-caching and offline-resilience layer
// that intermediates every outbound request between a client application
// and the network. It classifies requests against a declarative rule
// table, applies one of several caching strategies against a versioned
// cache store, synthesizes offline fallback content when both network and
// cache fail, and queues failed mutating requests for replay once
// connectivity returns.
package offlinecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/science-analyse/banking-assistant-sub001/cache"
	serializer "github.com/science-analyse/banking-assistant-sub001/pkg/response-serializer"
	"github.com/science-analyse/banking-assistant-sub001/retry"
)

// DefaultNetworkTimeout bounds every network attempt used for a fallback
// decision. Unbounded waits are a defect, not a degraded mode.
const DefaultNetworkTimeout = 8 * time.Second

type Config struct {
	// Storage backend for cache partitions. Defaults to an in-memory
	// provider.
	Provider cache.CacheProvider
	// Version tag of the current build. Embedded in every partition name.
	Version string
	// URL of the origin server. Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Request classification table. Defaults to DefaultRules.
	Rules Rules
	// Bound on network attempts. Defaults to DefaultNetworkTimeout.
	NetworkTimeout time.Duration
	// Storage for the retry queue. Defaults to in-memory storage.
	RetryStorage retry.Storage
	// Attempt budget per queued request.
	MaxRetryAttempts int
	// Called once for each queued request dropped after exhausting its
	// attempts. This is the single error surfaced to the host.
	OnRetryExhausted retry.ExhaustedFunc
	// Paths pre-populated into the static partition on install.
	PrecacheManifest []string
}

// Gateway intercepts requests as an http.Handler and resolves every one of
// them to some response: live, cached, or synthesized. It never propagates
// a failure to the caller.
type Gateway struct {
	store          *cache.Store
	rules          Rules
	offline        *OfflineResponder
	queue          *retry.Queue
	fetcher        *originFetcher
	networkTimeout time.Duration
	manifest       []string
	log            zerolog.Logger
}

// New initializes the gateway and its collaborators.
func New(config Config) *Gateway {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	provider := config.Provider
	if provider == nil {
		provider = cache.NewMemCache()
	}
	version := config.Version
	if version == "" {
		version = "0"
	}
	rules := config.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	timeout := config.NetworkTimeout
	if timeout == 0 {
		timeout = DefaultNetworkTimeout
	}
	retryStorage := config.RetryStorage
	if retryStorage == nil {
		retryStorage = retry.NewMemStorage()
	}

	g := &Gateway{
		store:          cache.NewStore(provider, version, logger),
		rules:          rules,
		offline:        NewOfflineResponder(logger),
		fetcher:        newOriginFetcher(config.OriginURL, config.OriginHost),
		networkTimeout: timeout,
		manifest:       config.PrecacheManifest,
		log:            logger,
	}
	g.queue = retry.NewQueue(retry.Config{
		Storage:     retryStorage,
		Send:        g.replay,
		MaxAttempts: config.MaxRetryAttempts,
		OnExhausted: config.OnRetryExhausted,
		Logger:      logger,
	})
	return g
}

// Store returns the gateway's versioned cache store.
func (g *Gateway) Store() *cache.Store {
	return g.store
}

// Queue returns the gateway's retry queue.
func (g *Gateway) Queue() *retry.Queue {
	return g.queue
}

// NotifyOnline signals that connectivity has been restored and drains the
// retry queue. The host decides how the signal is produced: an explicit
// call, a periodic probe, or both.
func (g *Gateway) NotifyOnline(ctx context.Context) error {
	return g.queue.Drain(ctx)
}

// ServeHTTP implements the http.Handler interface. It routes the request
// to the strategy selected by the rule table; all I/O happens in the
// strategy implementations.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule := g.rules.Match(r)
	switch rule.Strategy {
	case StrategyCacheFirst:
		g.cacheFirst(w, r, rule, false)
	case StrategyStaleWhileRevalidate:
		g.cacheFirst(w, r, rule, true)
	case StrategyNetworkOnly:
		g.networkOnly(w, r, rule)
	default:
		g.networkFirst(w, r, rule)
	}
}

// cacheFirst serves a fresh stored entry without any network attempt.
// On a miss it fetches and stores; on staleness it either refetches
// synchronously, or, with revalidate set, serves the stale entry right
// away and refreshes it in the background.
func (g *Gateway) cacheFirst(w http.ResponseWriter, r *http.Request, rule Rule, revalidate bool) {
	partition := g.store.Open(rule.Partition)
	key := cache.Key(r)

	res, entry, err := g.lookup(partition, key)
	if err == nil {
		if isFresh(res, entry, rule.MaxAge, time.Now()) {
			cs := CacheStatus{}
			cs.Hit()
			g.writeResponse(w, r, res, cs)
			return
		}
		if revalidate {
			// the stale read never blocks on the refetch
			go g.refresh(r, partition, key)
			cs := CacheStatus{}
			cs.Hit()
			cs.Detail(DetailRevalidating)
			g.writeResponse(w, r, res, cs)
			return
		}
	}

	netRes, netErr := g.fetchBuffered(r)
	if netErr == nil {
		g.storeResponse(partition, key, netRes)
		cs := CacheStatus{}
		cs.Forward(fwdReasonForLookup(err))
		g.writeResponse(w, r, netRes, cs)
		return
	}
	// network down: a stale entry beats a synthesized response
	if err == nil {
		cs := CacheStatus{}
		cs.Forward(FwdReasonStale)
		cs.Detail(DetailFallback)
		g.writeResponse(w, r, res, cs)
		return
	}
	g.logNetworkFailure(r, netErr)
	g.offline.Respond(w, r)
}

// networkFirst attempts the network within the bounded timeout and falls
// back to the cache on failure. A fallback hit is returned even if stale,
// tagged so callers can distinguish it from a live answer.
func (g *Gateway) networkFirst(w http.ResponseWriter, r *http.Request, rule Rule) {
	partition := g.store.Open(rule.Partition)
	key := cache.Key(r)

	netRes, netErr := g.fetchBuffered(r)
	if netErr == nil {
		g.storeResponse(partition, key, netRes)
		cs := CacheStatus{}
		cs.Forward(FwdReasonRequest)
		g.writeResponse(w, r, netRes, cs)
		return
	}
	g.logNetworkFailure(r, netErr)

	res, _, err := g.lookup(partition, key)
	if err == nil {
		cs := CacheStatus{}
		cs.Forward(FwdReasonStale)
		cs.Detail(DetailFallback)
		g.writeResponse(w, r, res, cs)
		return
	}
	g.offline.Respond(w, r)
}

// networkOnly bypasses the cache store entirely. When the rule marks the
// request retryable, a network failure queues the request for replay and
// acknowledges it to the caller.
func (g *Gateway) networkOnly(w http.ResponseWriter, r *http.Request, rule Rule) {
	var body []byte
	if rule.Retryable && r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			g.log.Error().Err(err).Msg("Could not read request body")
			g.offline.Respond(w, r)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	netRes, netErr := g.fetchBuffered(r)
	if netErr == nil {
		cs := CacheStatus{}
		cs.Forward(FwdReasonMethod)
		g.writeResponse(w, r, netRes, cs)
		return
	}
	g.logNetworkFailure(r, netErr)

	if rule.Retryable {
		item, err := g.queue.Enqueue(r.Method, r.URL.RequestURI(), r.Header, body)
		if err != nil {
			g.log.Error().Err(err).Msg("Could not queue request for replay")
			g.offline.Respond(w, r)
			return
		}
		g.writeQueuedResponse(w, r, item)
		return
	}
	g.offline.Respond(w, r)
}

// refresh refetches an entry in the background. The caller that triggered
// it may be long gone, so the refetch runs on a detached context with its
// own bounded timeout.
func (g *Gateway) refresh(r *http.Request, partition cache.Partition, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.networkTimeout)
	defer cancel()
	res, err := g.fetcher.do(ctx, r.Method, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		g.log.Debug().Err(err).Str("key", key).Msg("Background refresh failed")
		return
	}
	networkBody := res.Body
	defer networkBody.Close()
	bts, err := serializer.ToBytes(res)
	if err != nil {
		g.log.Debug().Err(err).Str("key", key).Msg("Background refresh unreadable")
		return
	}
	g.storeBytes(partition, key, res.StatusCode, bts)
}

// replay re-issues one queued request. Any origin answer below 500 counts
// as confirmed delivery; replaying cannot improve a client error.
func (g *Gateway) replay(ctx context.Context, item retry.Item) error {
	ctx, cancel := context.WithTimeout(ctx, g.networkTimeout)
	defer cancel()
	res, err := g.fetcher.do(ctx, item.Method, item.URL, item.Header, bytes.NewReader(item.Body))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("origin answered %d", res.StatusCode)
	}
	return nil
}

// fetchBuffered forwards the request to the origin within the bounded
// network timeout and buffers the whole response body, so the response
// stays readable after the timeout context is released.
func (g *Gateway) fetchBuffered(r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.networkTimeout)
	defer cancel()
	res, err := g.fetcher.forward(ctx, r)
	if err != nil {
		return nil, err
	}
	networkBody := res.Body
	defer networkBody.Close()
	if _, err := serializer.ToBytes(res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return res, nil
}

// lookup retrieves and decodes a stored entry. A read error or a corrupt
// entry is treated as a miss; corrupt entries are discarded.
func (g *Gateway) lookup(partition cache.Partition, key string) (*http.Response, cache.CacheEntry, error) {
	entry, ok, err := partition.Get(key)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil, entry, fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	if !ok {
		return nil, entry, ErrCacheMiss
	}
	res, err := serializer.FromBytes(entry.Bytes)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
		if purgeErr := partition.Purge(key); purgeErr != nil {
			g.log.Error().Err(purgeErr).Str("key", key).Msg("Could not purge corrupt entry")
		}
		return nil, entry, fmt.Errorf("%w: %v", ErrCacheEntryCorrupt, err)
	}
	return res, entry, nil
}

// storeResponse persists a successful network response under the key.
func (g *Gateway) storeResponse(partition cache.Partition, key string, res *http.Response) {
	bts, err := serializer.ToBytes(res)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
		return
	}
	g.storeBytes(partition, key, res.StatusCode, bts)
}

func (g *Gateway) storeBytes(partition cache.Partition, key string, statusCode int, bts []byte) {
	if statusCode < 200 || statusCode >= 300 {
		return
	}
	g.log.Trace().Str("partition", partition.Name).Str("key", key).Msg("Writing to cache")
	if err := partition.Put(key, time.Now(), bts); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
	}
}

// writeResponse delivers a response to the client. If the originating
// caller already went away the delivery is skipped; any cache write for
// the request has completed by this point.
func (g *Gateway) writeResponse(w http.ResponseWriter, r *http.Request, res *http.Response, cs CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	if r.Context().Err() != nil {
		g.log.Debug().Str("url", r.URL.String()).Msg("Caller gone, not delivering response")
		return
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		g.log.Error().Err(err).Msg("Could not write response body to client")
	}
	g.logRequest(r, cs)
	g.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (g *Gateway) writeQueuedResponse(w http.ResponseWriter, r *http.Request, item retry.Item) {
	cs := CacheStatus{}
	cs.Forward(FwdReasonMethod)
	cs.Detail(DetailSynthetic)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Status", cs.String())
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"queued":true,"offline":true,"id":%q}`, item.ID)
	g.logRequest(r, cs)
}

func (g *Gateway) logNetworkFailure(r *http.Request, err error) {
	event := g.log.Debug()
	if errors.Is(err, ErrTimeout) {
		event = g.log.Warn()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Msg("Network attempt failed")
}

func (g *Gateway) logRequest(r *http.Request, cs CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	g.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", cs.String()).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func fwdReasonForLookup(err error) FwdReason {
	if err == nil {
		return FwdReasonStale
	}
	return FwdReasonMiss
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
