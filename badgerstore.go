// This is free and unencumbered software released into the public domain.
//
// Anyone is free to copy, modify, publish, use, compile, sell, or
// distribute this software, either in source code form or as a compiled
// binary, for any purpose, commercial or non-commercial, and by any
// means.
//
// In jurisdictions that recognize copyright laws, the author or authors
// of this software dedicate any and all copyright interest in the
// software to the public domain. We make this dedication for the benefit
// of the public at large and to the detriment of our heirs and
// successors. We intend this dedication to be an overt act of
// relinquishment in perpetuity of all present and future rights to this
// software under copyright law.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
// EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
// MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
// IN NO EVENT SHALL THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.
//
// For more information, please refer to <https://unlicense.org>

package jmt

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Row prefixes. Node rows carry the encoded node key, so they order by
// version first; stale rows carry the stale-since version before the
// node key, so a purge is one ascending prefix scan.
var (
	nodeRowPrefix  = []byte{'n'}
	staleRowPrefix = []byte{'s'}
)

// BadgerTreeStore is a TreeStore backed by a badger database.
type BadgerTreeStore struct {
	db  *badger.DB
	log zerolog.Logger
}

// BadgerOption configures a BadgerTreeStore.
type BadgerOption func(*badgerConfig)

type badgerConfig struct {
	log        zerolog.Logger
	syncWrites bool
}

// WithLogger sets the store's logger; the default discards everything.
func WithLogger(log zerolog.Logger) BadgerOption {
	return func(cfg *badgerConfig) {
		cfg.log = log
	}
}

// WithSyncWrites makes every write batch fsync before returning.
func WithSyncWrites(sync bool) BadgerOption {
	return func(cfg *badgerConfig) {
		cfg.syncWrites = sync
	}
}

// NewBadgerTreeStore opens (or creates) a store at the given directory.
func NewBadgerTreeStore(dir string, opts ...BadgerOption) (*BadgerTreeStore, error) {
	cfg := badgerConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(cfg.syncWrites))
	if err != nil {
		return nil, errors.Wrap(err, "opening badger store")
	}
	return &BadgerTreeStore{db: db, log: cfg.log}, nil
}

// Close releases the underlying database.
func (s *BadgerTreeStore) Close() error {
	return s.db.Close()
}

func nodeRowKey(nodeKey NodeKey) []byte {
	return append(append([]byte(nil), nodeRowPrefix...), EncodeNodeKey(nodeKey)...)
}

func staleRowKey(entry StaleNodeIndex) []byte {
	out := make([]byte, 0, 1+8+9+len(entry.NodeKey.Path.Bytes()))
	out = append(out, staleRowPrefix...)
	var version [8]byte
	binary.BigEndian.PutUint64(version[:], uint64(entry.StaleSinceVersion))
	out = append(out, version[:]...)
	return append(out, EncodeNodeKey(entry.NodeKey)...)
}

// GetNode implements TreeReader.
func (s *BadgerTreeStore) GetNode(nodeKey NodeKey) (Node, error) {
	var node Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeRowKey(nodeKey))
		if err == badger.ErrKeyNotFound {
			return &MissingNodeError{NodeKey: nodeKey}
		}
		if err != nil {
			return errors.Wrapf(err, "reading node %s", nodeKey)
		}
		return item.Value(func(val []byte) error {
			node, err = DecodeNode(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// WriteTreeUpdateBatch implements TreeStore. The whole batch commits in
// one transaction; overwriting an existing node aborts it.
func (s *BadgerTreeStore) WriteTreeUpdateBatch(batch *TreeUpdateBatch) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, entry := range batch.NodeBatch {
			row := nodeRowKey(entry.Key)
			switch _, err := txn.Get(row); err {
			case badger.ErrKeyNotFound:
			case nil:
				return errors.Errorf("batch overwrites node %s", entry.Key)
			default:
				return errors.Wrapf(err, "checking node %s", entry.Key)
			}
			encoded, err := EncodeNode(entry.Node)
			if err != nil {
				return errors.Wrapf(err, "encoding node %s", entry.Key)
			}
			if err := txn.Set(row, encoded); err != nil {
				return errors.Wrapf(err, "writing node %s", entry.Key)
			}
		}
		for _, entry := range batch.StaleNodeIndexBatch {
			if err := txn.Set(staleRowKey(entry), nil); err != nil {
				return errors.Wrapf(err, "writing stale entry for %s", entry.NodeKey)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug().
		Int("new_nodes", len(batch.NodeBatch)).
		Int("stale_nodes", len(batch.StaleNodeIndexBatch)).
		Msg("wrote tree update batch")
	return nil
}

// PurgeStaleNodes implements TreeStore. Stale rows order by stale-since
// version, so the scan stops at the first entry past the cutoff.
func (s *BadgerTreeStore) PurgeStaleNodes(upToVersion Version) error {
	purged := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = staleRowPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var doomed [][]byte
		for it.Seek(staleRowPrefix); it.ValidForPrefix(staleRowPrefix); it.Next() {
			row := it.Item().KeyCopy(nil)
			staleSince := Version(binary.BigEndian.Uint64(row[1:9]))
			if staleSince > upToVersion {
				break
			}
			doomed = append(doomed, row)
		}
		for _, row := range doomed {
			nodeKey, err := DecodeNodeKey(row[9:])
			if err != nil {
				return errors.Wrap(err, "corrupt stale row")
			}
			if err := txn.Delete(nodeRowKey(nodeKey)); err != nil {
				return errors.Wrapf(err, "deleting node %s", nodeKey)
			}
			if err := txn.Delete(row); err != nil {
				return errors.Wrap(err, "deleting stale row")
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Uint64("up_to_version", uint64(upToVersion)).
		Int("purged", purged).
		Msg("purged stale nodes")
	return nil
}
