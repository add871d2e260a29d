package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ogolikhin/procgraph/internal/process"
)

// prefixProcess keys hold one JSON-encoded Record per process.
const prefixProcess = "p:"

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db       *badger.DB
	mu       sync.RWMutex
	readOnly bool
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(_ context.Context, path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR)

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.readOnly = readOnly
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BadgerBackend) processKey(id int) []byte {
	return []byte(prefixProcess + strconv.Itoa(id))
}

// Save implements Backend.
func (b *BadgerBackend) Save(_ context.Context, m *process.Model) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return "", ErrClosed
	}
	if b.readOnly {
		return "", ErrReadOnly
	}

	r := Record{
		Model:     m,
		Revision:  uuid.NewString(),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshaling process: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.processKey(m.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("saving process %d: %w", m.ID, err)
	}
	return r.Revision, nil
}

// Get implements Backend.
func (b *BadgerBackend) Get(_ context.Context, id int) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrClosed
	}

	var r Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.processKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading process %d: %w", id, err)
	}
	return &r, nil
}

// Delete implements Backend.
func (b *BadgerBackend) Delete(_ context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrClosed
	}
	if b.readOnly {
		return ErrReadOnly
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := b.processKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrProcessNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// records decodes every stored process ordered by id.
func (b *BadgerBackend) records() ([]*Record, error) {
	var result []*Record

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixProcess)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			result = append(result, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort lexically, "p:10" before "p:9".
	sort.Slice(result, func(i, j int) bool { return result[i].Model.ID < result[j].Model.ID })
	return result, nil
}

// List implements Backend.
func (b *BadgerBackend) List(_ context.Context) ([]Summary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrClosed
	}

	records, err := b.records()
	if err != nil {
		return nil, err
	}
	result := make([]Summary, 0, len(records))
	for _, r := range records {
		result = append(result, r.summary())
	}
	return result, nil
}

// Search implements Backend.
func (b *BadgerBackend) Search(_ context.Context, query string, limit int) ([]Summary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrClosed
	}

	records, err := b.records()
	if err != nil {
		return nil, err
	}
	return searchRecords(records, query, limit), nil
}
