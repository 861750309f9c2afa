// Package diskio implements the file interfaces the kernel's core
// subsystems consume from external collaborators (spec §6): FileReadAll
// for layout/config loading and FileWriteAll for atomic all-or-nothing
// writes. A real disk driver is out of scope for the five core
// subsystems, so diskio stands in for one behind a transactional
// key/value store, the way the teacher's resource store stands in for a
// database behind the same library.
package diskio

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"

	"github.com/exos-project/exoscore/internal/xerrors"
)

// Store is a file volume backed by a badger transaction log. Every
// FileWriteAll is a single badger transaction: it commits in full or not
// at all, which is what gives FileWriteAll its all-or-nothing guarantee
// (spec §6, §8 scenario 6) without diskio having to hand-roll a journal.
type Store struct {
	log logr.Logger
	db  *badger.DB
}

// Open opens (creating if absent) the volume rooted at dir. dir == ""
// opens an in-memory volume, matching the teacher's store.New() default
// for tests and the boot-simulator's ephemeral-volume mode.
func Open(log logr.Logger, dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("exos: open volume: %w", err)
	}
	return &Store{log: log.WithName("diskio"), db: db}, nil
}

// Close releases the underlying volume.
func (s *Store) Close() error {
	return s.db.Close()
}

func fileKey(path string) []byte {
	return []byte("file/" + path)
}

// FileReadAll reads the entire contents of path, for layout/config
// loading callers that want `&out_size` implicitly as len(result).
// Returns xerrors.ErrNotFound if path has never been written.
func (s *Store) FileReadAll(path string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(path))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return xerrors.ErrNotFound
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FileWriteAll writes data to path as a single transaction and returns
// len(data) on success. On any failure it returns (0, err) and leaves
// path's prior contents (if any) completely untouched — badger never
// applies a transaction's writes until Commit, so a mid-write failure
// can only abort the transaction, never partially apply it (spec §6,
// §8 property, §8 scenario 6).
func (s *Store) FileWriteAll(path string, data []byte) (int, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(path), data)
	})
	if err != nil {
		return 0, fmt.Errorf("exos: write file %q: %w", path, err)
	}
	return len(data), nil
}

// DeleteFile removes path. Returns xerrors.ErrNotFound if it did not exist.
func (s *Store) DeleteFile(path string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(path)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return xerrors.ErrNotFound
			}
			return err
		}
		return txn.Delete(fileKey(path))
	})
	return err
}

// FileExists reports whether path has been written and not deleted.
func (s *Store) FileExists(path string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(fileKey(path))
		return err
	})
	return err == nil
}
