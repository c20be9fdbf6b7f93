// Package retry persists mutating requests that failed to reach the
// network and replays them in creation order once connectivity returns.
package retry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts is how many times an item is re-issued before it is
// dropped and reported as exhausted.
const DefaultMaxAttempts = 5

// Item is a snapshot of a request awaiting replay.
type Item struct {
	ID        string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	CreatedAt time.Time
	Attempts  int
}

// Request rebuilds an http.Request from the snapshot.
func (it Item) Request(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, it.Method, it.URL, bytes.NewReader(it.Body))
	if err != nil {
		return nil, err
	}
	if it.Header != nil {
		req.Header = it.Header.Clone()
	}
	return req, nil
}

// Storage persists queue items. List must return items ordered by creation
// time, oldest first.
type Storage interface {
	Append(Item) error
	List() ([]Item, error)
	Update(Item) error
	Remove(id string) error
}

// Sender re-issues one item against the network. A nil error means
// confirmed delivery.
type Sender func(ctx context.Context, item Item) error

// ExhaustedFunc is called exactly once for an item dropped after exceeding
// the attempt budget. It is the queue's only outward-facing event.
type ExhaustedFunc func(Item)

// Queue is a persisted FIFO of failed mutating requests.
//
// Items may represent sequential user actions whose effects depend on
// order, so a drain never reorders or skips ahead: the first still-failing
// item ends the pass.
type Queue struct {
	mu          sync.Mutex
	storage     Storage
	send        Sender
	maxAttempts int
	onExhausted ExhaustedFunc
	log         zerolog.Logger
}

type Config struct {
	Storage Storage
	Send    Sender
	// MaxAttempts defaults to DefaultMaxAttempts when <= 0.
	MaxAttempts int
	// OnExhausted may be nil, in which case drops are only logged.
	OnExhausted ExhaustedFunc
	Logger      zerolog.Logger
}

func NewQueue(cfg Config) *Queue {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		storage:     cfg.Storage,
		send:        cfg.Send,
		maxAttempts: maxAttempts,
		onExhausted: cfg.OnExhausted,
		log:         cfg.Logger,
	}
}

// Enqueue snapshots a failed request for later replay.
func (q *Queue) Enqueue(method, url string, header http.Header, body []byte) (Item, error) {
	item := Item{
		ID:        uuid.NewString(),
		Method:    method,
		URL:       url,
		Header:    header.Clone(),
		Body:      body,
		CreatedAt: time.Now(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.storage.Append(item); err != nil {
		return Item{}, fmt.Errorf("append retry item: %w", err)
	}
	q.log.Debug().
		Str("id", item.ID).
		Str("method", method).
		Str("url", url).
		Msg("Queued request for replay")
	return item, nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.storage.List()
	if err != nil {
		return 0
	}
	return len(items)
}

// Drain replays queued items strictly in creation order. Each item is
// re-issued once per pass: success removes it, failure increments its
// attempt count and ends the pass, since the network is presumed still
// down and later items must not overtake earlier ones. An item whose
// attempts reach the maximum is removed and reported as exhausted.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.storage.List()
	if err != nil {
		return fmt.Errorf("list retry items: %w", err)
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.send(ctx, item); err != nil {
			item.Attempts++
			if item.Attempts >= q.maxAttempts {
				q.drop(item, err)
				continue
			}
			if updateErr := q.storage.Update(item); updateErr != nil {
				return fmt.Errorf("update retry item: %w", updateErr)
			}
			q.log.Debug().
				Str("id", item.ID).
				Int("attempts", item.Attempts).
				Err(err).
				Msg("Replay failed, keeping item")
			return fmt.Errorf("replay %s %s: %w", item.Method, item.URL, err)
		}
		if err := q.storage.Remove(item.ID); err != nil {
			return fmt.Errorf("remove retry item: %w", err)
		}
		q.log.Debug().
			Str("id", item.ID).
			Str("method", item.Method).
			Str("url", item.URL).
			Msg("Replayed queued request")
	}
	return nil
}

func (q *Queue) drop(item Item, cause error) {
	if err := q.storage.Remove(item.ID); err != nil {
		q.log.Error().Err(err).Str("id", item.ID).Msg("Could not remove exhausted item")
		return
	}
	q.log.Warn().
		Str("id", item.ID).
		Str("method", item.Method).
		Str("url", item.URL).
		Int("attempts", item.Attempts).
		Err(cause).
		Msg("Dropping request after exhausting retries")
	if q.onExhausted != nil {
		q.onExhausted(item)
	}
}
