package retry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage persists queue items in a SQLite database, so queued
// actions survive a restart of the hosting application.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS retry_queue (
		id TEXT PRIMARY KEY,
		method TEXT,
		url TEXT,
		header TEXT,
		body BLOB,
		created_at INTEGER,
		attempts INTEGER
	)`)
	if err != nil {
		return SQLiteStorage{}, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS created_at_idx ON retry_queue (created_at)")
	if err != nil {
		return SQLiteStorage{}, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return SQLiteStorage{}, err
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStorage) Append(item Item) error {
	header, err := json.Marshal(item.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.Exec(`INSERT INTO retry_queue
		(id, method, url, header, body, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Method, item.URL, string(header), item.Body,
		item.CreatedAt.UnixNano(), item.Attempts)
	return err
}

func (s SQLiteStorage) List() ([]Item, error) {
	items := make([]Item, 0)
	rows, err := s.db.Query(`SELECT id, method, url, header, body, created_at, attempts
		FROM retry_queue ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return items, err
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		var header string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.Method, &item.URL, &header, &item.Body, &createdAt, &item.Attempts); err != nil {
			return items, err
		}
		if err := json.Unmarshal([]byte(header), &item.Header); err != nil {
			return items, fmt.Errorf("unmarshal header: %w", err)
		}
		item.CreatedAt = time.Unix(0, createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s SQLiteStorage) Update(item Item) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("UPDATE retry_queue SET attempts = ? WHERE id = ?", item.Attempts, item.ID)
	return err
}

func (s SQLiteStorage) Remove(id string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM retry_queue WHERE id = ?", id)
	return err
}

// MemStorage is an in-memory Storage for testing and ephemeral use.
type MemStorage struct {
	mutex *sync.Mutex
	items *[]Item
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex: &sync.Mutex{},
		items: &[]Item{},
	}
}

func (m MemStorage) Append(item Item) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	*m.items = append(*m.items, item)
	return nil
}

func (m MemStorage) List() ([]Item, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	items := make([]Item, len(*m.items))
	copy(items, *m.items)
	return items, nil
}

func (m MemStorage) Update(item Item) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, existing := range *m.items {
		if existing.ID == item.ID {
			(*m.items)[i] = item
			return nil
		}
	}
	return fmt.Errorf("item %s not found", item.ID)
}

func (m MemStorage) Remove(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, existing := range *m.items {
		if existing.ID == id {
			*m.items = append((*m.items)[:i], (*m.items)[i+1:]...)
			return nil
		}
	}
	return nil
}
