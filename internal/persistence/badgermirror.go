package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/pitabwire/formflow/model"
)

// BadgerMirror mirrors submissions into an embedded badger database.
type BadgerMirror struct {
	db *badger.DB
}

// NewBadgerMirror wraps an open badger database.
func NewBadgerMirror(db *badger.DB) *BadgerMirror {
	return &BadgerMirror{db: db}
}

// OpenBadgerMirror opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerMirror(dir string) (*BadgerMirror, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger mirror %q: %w", dir, err)
	}
	return NewBadgerMirror(db), nil
}

// Name implements Mirror.
func (m *BadgerMirror) Name() string { return "badger" }

// Put implements Mirror.
func (m *BadgerMirror) Put(_ context.Context, p string, data []byte) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(p), data)
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", p, err)
	}
	return nil
}

// Get implements Mirror.
func (m *BadgerMirror) Get(_ context.Context, p string) ([]byte, error) {
	var data []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(p))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.NewNotFoundError(fmt.Sprintf("mirror entry %q not found", p))
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %q: %w", p, err)
	}
	return data, nil
}

// Remove implements Mirror.
func (m *BadgerMirror) Remove(_ context.Context, p string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(p))
	})
	if err != nil {
		return fmt.Errorf("badger delete %q: %w", p, err)
	}
	return nil
}

// Close closes the database.
func (m *BadgerMirror) Close() error {
	return m.db.Close()
}
