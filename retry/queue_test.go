package retry

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("network down")

func newTestQueue(t *testing.T, send Sender, onExhausted ExhaustedFunc) *Queue {
	t.Helper()
	return NewQueue(Config{
		Storage:     NewMemStorage(),
		Send:        send,
		MaxAttempts: 3,
		OnExhausted: onExhausted,
		Logger:      zerolog.Nop(),
	})
}

func TestDrainReplaysInCreationOrder(t *testing.T) {
	var replayed []string
	queue := newTestQueue(t, func(_ context.Context, item Item) error {
		replayed = append(replayed, string(item.Body))
		return nil
	}, nil)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := queue.Enqueue("POST", "/api/chat", http.Header{}, []byte(msg))
		require.NoError(t, err)
	}

	require.NoError(t, queue.Drain(context.Background()))
	assert.Equal(t, []string{"first", "second", "third"}, replayed)
	assert.Equal(t, 0, queue.Len())
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	var attempted []string
	queue := newTestQueue(t, func(_ context.Context, item Item) error {
		attempted = append(attempted, string(item.Body))
		if string(item.Body) == "second" {
			return errDown
		}
		return nil
	}, nil)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := queue.Enqueue("POST", "/api/chat", http.Header{}, []byte(msg))
		require.NoError(t, err)
	}

	err := queue.Drain(context.Background())
	require.Error(t, err)
	// the third item must not overtake the failed second one
	assert.Equal(t, []string{"first", "second"}, attempted)
	assert.Equal(t, 2, queue.Len())
}

func TestFailureIncrementsAttemptsAndKeepsOrder(t *testing.T) {
	calls := 0
	queue := newTestQueue(t, func(_ context.Context, item Item) error {
		calls++
		if calls < 3 {
			return errDown
		}
		return nil
	}, nil)

	item, err := queue.Enqueue("POST", "/api/chat", http.Header{}, []byte("hello"))
	require.NoError(t, err)

	require.Error(t, queue.Drain(context.Background()))
	require.Error(t, queue.Drain(context.Background()))
	require.NoError(t, queue.Drain(context.Background()))

	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, 3, calls)
	_ = item
}

func TestExhaustedItemDroppedAndReportedExactlyOnce(t *testing.T) {
	var exhausted []Item
	queue := newTestQueue(t, func(context.Context, Item) error {
		return errDown
	}, func(item Item) {
		exhausted = append(exhausted, item)
	})

	original, err := queue.Enqueue("POST", "/api/chat", http.Header{}, []byte("doomed"))
	require.NoError(t, err)

	// max attempts is 3: two failing passes keep it, the third drops it
	require.Error(t, queue.Drain(context.Background()))
	require.Error(t, queue.Drain(context.Background()))
	require.NoError(t, queue.Drain(context.Background()))
	require.NoError(t, queue.Drain(context.Background()))

	require.Len(t, exhausted, 1)
	assert.Equal(t, original.ID, exhausted[0].ID)
	assert.Equal(t, 0, queue.Len())
}

func TestItemSnapshotRebuildsRequest(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	item := Item{
		ID:     "x",
		Method: "POST",
		URL:    "/api/chat",
		Header: header,
		Body:   []byte(`{"message":"hi"}`),
	}
	req, err := item.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "retry.db")

	storage, err := NewSQLiteStorage(filename)
	require.NoError(t, err)
	queue := NewQueue(Config{Storage: storage, Send: nil, Logger: zerolog.Nop()})
	_, err = queue.Enqueue("POST", "/api/chat", http.Header{"X-Client": {"test"}}, []byte("persisted"))
	require.NoError(t, err)

	reopened, err := NewSQLiteStorage(filename)
	require.NoError(t, err)
	items, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "persisted", string(items[0].Body))
	assert.Equal(t, "test", items[0].Header.Get("X-Client"))
}
