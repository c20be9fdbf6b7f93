package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/science-analyse/banking-assistant-sub001/cache"
	serializer "github.com/science-analyse/banking-assistant-sub001/pkg/response-serializer"
)

// Control message types understood by the lifecycle manager.
const (
	// MsgSkipWaiting forces immediate activation without the normal
	// waiting period.
	MsgSkipWaiting = "SKIP_WAITING"
	// MsgGetVersion reports the current version tag.
	MsgGetVersion = "GET_VERSION"
	// MsgClearCache empties all partitions.
	MsgClearCache = "CLEAR_CACHE"
	// MsgCacheURLs adds the supplied paths to the static partition.
	MsgCacheURLs = "CACHE_URLS"
)

// Message is a control message from the hosting application.
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// Reply is the answer to a control message.
type Reply struct {
	Version string `json:"version,omitempty"`
	Cached  int    `json:"cached,omitempty"`
	OK      bool   `json:"ok"`
}

// trigger is a lifecycle event kind. Each trigger has one ordered handler
// list in the dispatch table, so execution order and side effects stay
// auditable; there are no scattered listener registrations.
type trigger string

const (
	triggerInstall  trigger = "install"
	triggerActivate trigger = "activate"
)

type triggerHandler struct {
	name string
	run  func(context.Context) error
}

// Lifecycle governs installation, activation, version rollover, and the
// control-message surface of the gateway.
type Lifecycle struct {
	gateway  *Gateway
	handlers map[trigger][]triggerHandler
	log      zerolog.Logger

	mu        sync.Mutex
	installed bool
	waiting   bool
	active    bool
}

func NewLifecycle(g *Gateway, logger zerolog.Logger) *Lifecycle {
	l := &Lifecycle{
		gateway: g,
		log:     logger.With().Str("version", g.store.Version()).Logger(),
	}
	l.handlers = map[trigger][]triggerHandler{
		triggerInstall: {
			{name: "precache-manifest", run: l.precacheManifest},
			{name: "signal-ready", run: l.signalReady},
		},
		triggerActivate: {
			{name: "prune-old-versions", run: l.pruneOldVersions},
			{name: "claim-clients", run: l.claimClients},
		},
	}
	return l
}

// Install runs the install trigger: pre-populating the static partition
// and signalling readiness. Pre-population is best effort and never aborts
// startup.
func (l *Lifecycle) Install(ctx context.Context) error {
	return l.dispatch(ctx, triggerInstall)
}

// Activate runs the activate trigger: pruning every partition from prior
// versions and taking over all open client connections, so they use the
// new version without a reload.
func (l *Lifecycle) Activate(ctx context.Context) error {
	return l.dispatch(ctx, triggerActivate)
}

// SkipWaiting marks the pending version for immediate activation.
func (l *Lifecycle) SkipWaiting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiting = false
	l.log.Debug().Msg("Waiting period skipped")
}

// Active reports whether this version has been activated.
func (l *Lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Installed reports whether the install trigger has run.
func (l *Lifecycle) Installed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installed
}

// Waiting reports whether the version is installed but still waiting for
// activation.
func (l *Lifecycle) Waiting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// HandleMessage handles one control message from the hosting application.
func (l *Lifecycle) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	l.log.Debug().Str("type", msg.Type).Msg("Control message")
	switch msg.Type {
	case MsgSkipWaiting:
		l.SkipWaiting()
		if err := l.Activate(ctx); err != nil {
			return Reply{}, err
		}
		return Reply{OK: true}, nil
	case MsgGetVersion:
		return Reply{OK: true, Version: l.gateway.store.Version()}, nil
	case MsgClearCache:
		if err := l.gateway.store.Clear(); err != nil {
			return Reply{}, err
		}
		return Reply{OK: true}, nil
	case MsgCacheURLs:
		cached := l.cacheURLs(ctx, msg.URLs)
		return Reply{OK: true, Cached: cached}, nil
	default:
		return Reply{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (l *Lifecycle) dispatch(ctx context.Context, t trigger) error {
	for _, h := range l.handlers[t] {
		l.log.Debug().Str("trigger", string(t)).Str("handler", h.name).Msg("Running handler")
		if err := h.run(ctx); err != nil {
			return fmt.Errorf("%s/%s: %w", t, h.name, err)
		}
	}
	return nil
}

// precacheManifest fetches the fixed manifest of static resources into the
// static partition. Each prefetch failure is logged and skipped.
func (l *Lifecycle) precacheManifest(ctx context.Context) error {
	l.mu.Lock()
	l.installed = true
	l.waiting = true
	l.mu.Unlock()
	l.cacheURLs(ctx, l.gateway.manifest)
	return nil
}

func (l *Lifecycle) signalReady(context.Context) error {
	l.SkipWaiting()
	return nil
}

func (l *Lifecycle) pruneOldVersions(context.Context) error {
	return l.gateway.store.DeleteAllExcept(l.gateway.store.Version())
}

func (l *Lifecycle) claimClients(context.Context) error {
	// the gateway serves every in-flight and future request from the
	// store opened under the current tag, so activation is immediate
	l.mu.Lock()
	l.active = true
	l.mu.Unlock()
	l.log.Info().Msg("Version activated")
	return nil
}

// cacheURLs fetches each path and stores it in the static partition,
// best effort. It returns the number of entries stored.
func (l *Lifecycle) cacheURLs(ctx context.Context, urls []string) int {
	partition := l.gateway.store.Open(cache.CategoryStatic)
	cached := 0
	for _, uri := range urls {
		if err := l.cacheURL(ctx, partition, uri); err != nil {
			l.log.Warn().Err(err).Str("url", uri).Msg("Skipping prefetch")
			continue
		}
		cached++
	}
	return cached
}

func (l *Lifecycle) cacheURL(ctx context.Context, partition cache.Partition, uri string) error {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("create prefetch request: %w", err)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, l.gateway.networkTimeout)
	defer cancel()
	res, err := l.gateway.fetcher.do(fetchCtx, http.MethodGet, req.URL.RequestURI(), nil, nil)
	if err != nil {
		return err
	}
	networkBody := res.Body
	defer networkBody.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("prefetch answered %d", res.StatusCode)
	}
	bts, err := serializer.ToBytes(res)
	if err != nil {
		return fmt.Errorf("serialize prefetch: %w", err)
	}
	key := cache.Key(req)
	l.log.Debug().Str("key", key).Msg("Pre-populated static entry")
	return partition.Put(key, time.Time{}, bts)
}
