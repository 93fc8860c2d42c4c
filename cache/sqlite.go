package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache opens (and creates if needed) the cache database.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS cache (generation TEXT NOT NULL, key TEXT NOT NULL, bytes BLOB, PRIMARY KEY (generation, key))",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init sqlite db: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE generation = ? AND key = ?", generation, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(generation, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (generation, key, bytes) VALUES (?, ?, ?)", generation, key, bytes)
	return err
}

func (s SQLiteCache) Has(generation, key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE generation = ? AND key = ?", generation, key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Purge(generation, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE generation = ? AND key = ?", generation, key)
	return err
}

func (s SQLiteCache) Delete(generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE generation = ?", generation)
	return err
}

func (s SQLiteCache) Generations() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT generation FROM cache ORDER BY generation")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
