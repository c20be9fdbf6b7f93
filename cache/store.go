package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Category is a cache partition category.
// Each category holds one class of response snapshots.
type Category string

const (
	CategoryStatic  Category = "static"
	CategoryDynamic Category = "dynamic"
	CategoryAPI     Category = "api"
	CategoryMedia   Category = "media"
)

// Categories lists all partition categories.
var Categories = []Category{CategoryStatic, CategoryDynamic, CategoryAPI, CategoryMedia}

// PartitionName returns the partition name for a category under a version
// tag, in the form "<category>-<version>".
func PartitionName(c Category, version string) string {
	return fmt.Sprintf("%s-%s", c, version)
}

// Store is a versioned view over a CacheProvider.
// All partitions opened through a Store carry the Store's version tag, and
// DeleteAllExcept prunes every partition belonging to any other tag.
// Construct with an injectable provider to test without real storage.
type Store struct {
	provider CacheProvider
	version  string
	log      zerolog.Logger
}

func NewStore(provider CacheProvider, version string, logger zerolog.Logger) *Store {
	return &Store{
		provider: provider,
		version:  version,
		log:      logger.With().Str("version", version).Logger(),
	}
}

// Version returns the store's version tag.
func (s *Store) Version() string {
	return s.version
}

// Open returns a handle to the partition for the given category under the
// store's version tag.
func (s *Store) Open(c Category) Partition {
	return Partition{
		Name:     PartitionName(c, s.version),
		Category: c,
		provider: s.provider,
	}
}

// DeleteAllExcept removes every partition whose name does not carry the
// given version tag. It is called on activation so that no partition from
// a prior version survives.
func (s *Store) DeleteAllExcept(version string) error {
	partitions, err := s.provider.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	suffix := "-" + version
	for _, name := range partitions {
		if strings.HasSuffix(name, suffix) {
			continue
		}
		s.log.Debug().Str("partition", name).Msg("Deleting stale partition")
		if err := s.provider.DeletePartition(name); err != nil {
			return fmt.Errorf("delete partition %s: %w", name, err)
		}
	}
	return nil
}

// Clear empties all partitions, including the current version's.
func (s *Store) Clear() error {
	partitions, err := s.provider.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range partitions {
		if err := s.provider.DeletePartition(name); err != nil {
			return fmt.Errorf("delete partition %s: %w", name, err)
		}
	}
	return nil
}

// Partition is a handle to one named cache partition.
type Partition struct {
	Name     string
	Category Category
	provider CacheProvider
}

func (p Partition) Get(key string) (CacheEntry, bool, error) {
	return p.provider.Get(p.Name, key)
}

// Put stores the given bytes under the key, stamped with the given
// stored-at time. A zero storedAt means now.
func (p Partition) Put(key string, storedAt time.Time, bytes []byte) error {
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return p.provider.Put(CacheEntry{
		Partition: p.Name,
		Key:       key,
		StoredAt:  storedAt,
		Bytes:     bytes,
	})
}

func (p Partition) Purge(key string) error {
	return p.provider.Purge(p.Name, key)
}

func (p Partition) Keys(cb func(string)) error {
	return p.provider.Keys(p.Name, cb)
}
