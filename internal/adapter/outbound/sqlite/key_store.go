package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/domain/auth"
)

// KeyStore implements auth.KeyStore over the api_keys table with a
// read-mostly in-memory cache in front. Validation is a hash lookup in the
// cache; create/revoke/delete take the exclusive lock and write through.
type KeyStore struct {
	db *sql.DB

	mu     sync.RWMutex
	byHash map[string]auth.APIKey
}

// NewKeyStore creates the store and warms the cache from the table.
func NewKeyStore(db *sql.DB) (*KeyStore, error) {
	s := &KeyStore{db: db, byHash: make(map[string]auth.APIKey)}
	if err := s.loadCache(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KeyStore) loadCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key_id, key_hash, name, created_at, last_used_at, active FROM api_keys")
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return err
		}
		s.byHash[key.Hash] = key
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (auth.APIKey, error) {
	var key auth.APIKey
	var createdAt int64
	var lastUsed sql.NullInt64
	var active int
	if err := row.Scan(&key.ID, &key.Hash, &key.Name, &createdAt, &lastUsed, &active); err != nil {
		return auth.APIKey{}, fmt.Errorf("scan api key: %w", err)
	}
	key.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastUsed.Valid {
		t := time.UnixMilli(lastUsed.Int64).UTC()
		key.LastUsedAt = &t
	}
	key.Active = active != 0
	return key, nil
}

// Insert stores a new key row and caches it.
func (s *KeyStore) Insert(ctx context.Context, key auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (key_id, key_hash, name, created_at, active) VALUES (?, ?, ?, ?, 1)",
		key.ID, key.Hash, key.Name, key.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	s.byHash[key.Hash] = key
	return nil
}

// GetByHash looks a key up in the cache.
func (s *KeyStore) GetByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := key
	return &cp, nil
}

// List returns all keys, newest first.
func (s *KeyStore) List(ctx context.Context) ([]auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key_id, key_hash, name, created_at, last_used_at, active FROM api_keys ORDER BY created_at DESC, key_id")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []auth.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke sets active=false.
func (s *KeyStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET active = 0 WHERE key_id = ?", id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrKeyNotFound
	}
	for hash, key := range s.byHash {
		if key.ID == id {
			key.Active = false
			s.byHash[hash] = key
		}
	}
	return nil
}

// Delete removes the key row.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE key_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrKeyNotFound
	}
	for hash, key := range s.byHash {
		if key.ID == id {
			delete(s.byHash, hash)
		}
	}
	return nil
}

// TouchLastUsed records a successful use. Best effort; the validator
// coalesces calls so this is not on every request.
func (s *KeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE key_id = ?", at.UnixMilli(), id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	for hash, key := range s.byHash {
		if key.ID == id {
			t := at.UTC()
			key.LastUsedAt = &t
			s.byHash[hash] = key
		}
	}
	return nil
}

// Compile-time interface verification.
var _ auth.KeyStore = (*KeyStore)(nil)
