package offlinecache

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/science-analyse/banking-assistant-sub001/cache"
)

// Strategy is a caching strategy for a class of requests.
type Strategy string

const (
	// Serve from cache if fresh; fetch over network only on miss or
	// staleness.
	StrategyCacheFirst Strategy = "cache-first"
	// Attempt the network first; fall back to cache only on failure or
	// timeout.
	StrategyNetworkFirst Strategy = "network-first"
	// Serve a possibly stale cached value immediately while refreshing
	// it in the background.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	// Never touch the cache store.
	StrategyNetworkOnly Strategy = "network-only"
)

// Rule classifies requests into a resource class and assigns the caching
// strategy for that class. Rules are evaluated top-down, first match wins.
type Rule struct {
	// Path prefix to match, e.g. "/static/".
	Prefix string `yaml:"prefix"`
	// Exact path to match. Takes part in matching only if set.
	Path string `yaml:"path"`
	// HTTP method to match. Empty matches GET only.
	Method string `yaml:"method"`
	// Strategy for matching requests.
	Strategy Strategy `yaml:"strategy"`
	// How long a stored entry counts as fresh.
	MaxAge time.Duration `yaml:"-"`
	// Partition category entries are stored under. Defaults to dynamic.
	Partition cache.Category `yaml:"partition"`
	// Whether a failed mutating request should be queued for replay.
	Retryable bool `yaml:"retryable"`
}

// UnmarshalYAML accepts maxAge as a duration string ("24h", "5m").
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	var aux struct {
		MaxAge string `yaml:"maxAge"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*r = Rule(p)
	if aux.MaxAge != "" {
		d, err := time.ParseDuration(aux.MaxAge)
		if err != nil {
			return fmt.Errorf("rule maxAge: %w", err)
		}
		r.MaxAge = d
	}
	return nil
}

func (r Rule) matches(req *http.Request) bool {
	if r.Method == "" && req.Method != http.MethodGet {
		return false
	}
	if r.Method != "" && r.Method != req.Method {
		return false
	}
	if r.Path != "" && r.Path != req.URL.Path {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(req.URL.Path, r.Prefix) {
		return false
	}
	return true
}

type Rules []Rule

// Match returns the strategy rule for the request: the first matching rule
// in order, or the network-first default when none match. Only GET
// requests are eligible for a caching strategy; for any other method the
// returned rule is forced to network-only, keeping only the matched rule's
// retryable flag.
func (rs Rules) Match(req *http.Request) Rule {
	rule := defaultRule
	for _, r := range rs {
		if r.matches(req) {
			rule = r
			break
		}
	}
	if rule.Partition == "" {
		rule.Partition = cache.CategoryDynamic
	}
	if req.Method != http.MethodGet {
		rule.Strategy = StrategyNetworkOnly
	}
	if rule.Strategy == "" {
		rule.Strategy = StrategyNetworkFirst
	}
	return rule
}

var defaultRule = Rule{
	Strategy:  StrategyNetworkFirst,
	MaxAge:    5 * time.Minute,
	Partition: cache.CategoryDynamic,
}

// DefaultRules is the built-in classification table. The order matters:
// more specific classes come first, navigation and unknown requests fall
// through to the network-first default.
func DefaultRules() Rules {
	return Rules{
		{Prefix: "/static/", Strategy: StrategyCacheFirst, MaxAge: 24 * time.Hour, Partition: cache.CategoryStatic},
		{Prefix: "/assets/", Strategy: StrategyCacheFirst, MaxAge: 24 * time.Hour, Partition: cache.CategoryStatic},
		{Prefix: "/media/", Strategy: StrategyCacheFirst, MaxAge: 7 * 24 * time.Hour, Partition: cache.CategoryMedia},
		{Prefix: "/images/", Strategy: StrategyCacheFirst, MaxAge: 7 * 24 * time.Hour, Partition: cache.CategoryMedia},
		{Path: "/api/health", Strategy: StrategyNetworkFirst, MaxAge: 5 * time.Minute, Partition: cache.CategoryAPI},
		{Path: "/api/exchange-rates", Strategy: StrategyNetworkFirst, MaxAge: 5 * time.Minute, Partition: cache.CategoryAPI},
		{Prefix: "/api/chat", Method: http.MethodPost, Strategy: StrategyNetworkOnly, Retryable: true},
		{Prefix: "/api/", Strategy: StrategyNetworkFirst, MaxAge: 5 * time.Minute, Partition: cache.CategoryAPI},
	}
}
