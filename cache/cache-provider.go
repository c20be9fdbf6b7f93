package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped into named partitions. Partition names embed the active version
// tag, so a provider typically holds entries for several versions at once
// until the current version is activated.
//
// Implementations must be thread-safe, and a Put for a given
// (partition, key) pair must be atomic: concurrent writers may interleave
// freely, but the stored value is always exactly one writer's value
// (last write wins).
type CacheProvider interface {
	// Get returns the entry stored under the given key in the given
	// partition, if it exists.
	Get(partition, key string) (CacheEntry, bool, error)
	// Put stores the given entry under its partition and key,
	// overwriting any previous value.
	Put(CacheEntry) error
	// Purge removes the entry for the given key. Purging a key that does
	// not exist is not an error.
	Purge(partition, key string) error
	// Keys calls the given callback for each key in the partition.
	// It calls the callback one key at a time to enable very large key
	// sets to be processable (an implementation might use paging).
	Keys(partition string, cb func(string)) error
	// Partitions returns the names of all partitions with at least one
	// entry.
	Partitions() ([]string, error)
	// DeletePartition removes a partition and all entries in it.
	DeletePartition(partition string) error
}

// CacheEntry is a single stored response snapshot.
type CacheEntry struct {
	Partition string
	Key       string
	StoredAt  time.Time
	Bytes     []byte
}

// SQLiteCache is a CacheProvider backed by a SQLite database.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		partition TEXT,
		key TEXT,
		stored_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (partition, key)
	)`)
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS partition_idx ON cache (partition)")
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return SQLiteCache{}, err
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(partition, key string) (CacheEntry, bool, error) {
	var entry CacheEntry
	var storedAt int64
	err := s.db.QueryRow(
		"SELECT stored_at, bytes FROM cache WHERE partition = ? AND key = ?",
		partition, key,
	).Scan(&storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.Partition = partition
	entry.Key = key
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s SQLiteCache) Put(ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		ce.Partition, ce.Key, ce.StoredAt.Unix(), ce.Bytes)
	return err
}

func (s SQLiteCache) Purge(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE partition = ? AND key = ?", partition, key)
	return err
}

func (s SQLiteCache) Keys(partition string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM cache WHERE partition = ?", partition)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Partitions() ([]string, error) {
	partitions := make([]string, 0)
	rows, err := s.db.Query("SELECT DISTINCT partition FROM cache")
	if err != nil {
		return partitions, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return partitions, err
		}
		partitions = append(partitions, name)
	}
	return partitions, rows.Err()
}

func (s SQLiteCache) DeletePartition(partition string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE partition = ?", partition)
	return err
}
