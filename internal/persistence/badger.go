package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
)

const (
	recPrefix  = "rec:"
	tailPrefix = "tail:"
	idPrefix   = "id:"

	archiveBatchSize = 512
)

// BadgerStore persists audit chains in BadgerDB. Records live under
// rec:<org>:<chain>:<seq>, the chain tail is duplicated under
// tail:<org>:<chain> so appends can read it with a single key lookup,
// and id:<org>:<record-id> points back at the record key.
type BadgerStore struct {
	db   *badger.DB
	log  logger.Logger
	stop chan struct{}
}

// NewBadgerStore opens or creates a BadgerDB-backed store
func NewBadgerStore(dataDir string, syncWrites bool, log logger.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = syncWrites
	opts.Logger = nil // Disable BadgerDB internal logging or wrap it

	// WAL configuration for crash recovery
	opts.ValueLogFileSize = 64 << 20 // 64MB value log files
	opts.MemTableSize = 64 << 20     // 64MB memtable
	opts.NumMemtables = 5            // Keep 5 memtables in memory
	opts.NumLevelZeroTables = 5      // Maximum L0 tables before compaction
	opts.NumLevelZeroTablesStall = 10 // Stall writes when this many L0 tables

	// Enable compression for better storage efficiency
	opts.Compression = 1 // Snappy compression

	if syncWrites {
		log.Info("WAL enabled with synchronous writes for maximum durability")
	} else {
		log.Info("WAL enabled with asynchronous writes for better performance")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	store := &BadgerStore{
		db:   db,
		log:  log,
		stop: make(chan struct{}),
	}

	// Start garbage collection routine
	go store.runGarbageCollection()

	log.Info("BadgerDB audit store initialized with WAL support",
		logger.String("data_dir", dataDir),
		logger.Bool("sync_writes", syncWrites))

	return store, nil
}

func (b *BadgerStore) runGarbageCollection() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		}
	}
}

func recKey(orgID, chainKey string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", recPrefix, orgID, chainKey, seq))
}

func tailKey(orgID, chainKey string) []byte {
	return []byte(tailPrefix + orgID + ":" + chainKey)
}

func idKey(orgID, id string) []byte {
	return []byte(idPrefix + orgID + ":" + id)
}

// Append writes the record, its tail copy, and its id index entry in
// one transaction. A stale tail read surfaces as ErrChainConflict, as
// does a BadgerDB commit conflict with a concurrent append.
func (b *BadgerStore) Append(ctx context.Context, record *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		tKey := tailKey(record.OrganizationID, record.ChainKey)

		var tailSeq uint64
		tailSum := audit.GenesisHash
		item, err := txn.Get(tKey)
		switch {
		case err == nil:
			var tail audit.Record
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &tail) }); err != nil {
				return fmt.Errorf("decode chain tail: %w", err)
			}
			tailSeq = tail.SequenceNumber
			tailSum = tail.Checksum
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		if record.SequenceNumber != tailSeq+1 || record.PreviousHash != tailSum {
			return audit.ErrChainConflict
		}

		iKey := idKey(record.OrganizationID, record.ID)
		if _, err := txn.Get(iKey); err == nil {
			return fmt.Errorf("record id already exists: %s", record.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rKey := recKey(record.OrganizationID, record.ChainKey, record.SequenceNumber)
		if err := txn.Set(rKey, data); err != nil {
			return err
		}
		if err := txn.Set(tKey, data); err != nil {
			return err
		}
		return txn.Set(iKey, rKey)
	})
	if errors.Is(err, badger.ErrConflict) {
		return audit.ErrChainConflict
	}
	return err
}

// Tail returns the last record of a chain, or nil for an empty chain
func (b *BadgerStore) Tail(ctx context.Context, orgID, chainKey string) (*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *audit.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tailKey(orgID, chainKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			record = &audit.Record{}
			return json.Unmarshal(val, record)
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Get resolves a record id through the id index
func (b *BadgerStore) Get(ctx context.Context, orgID, id string) (*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *audit.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(orgID, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &audit.NotFoundError{Type: "record", Key: id}
		}
		if err != nil {
			return err
		}

		var rKey []byte
		if err := item.Value(func(val []byte) error {
			rKey = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		recItem, err := txn.Get(rKey)
		if err != nil {
			return err
		}
		return recItem.Value(func(val []byte) error {
			record = &audit.Record{}
			return json.Unmarshal(val, record)
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Range streams a chain's records in ascending sequence order
func (b *BadgerStore) Range(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64, fn func(*audit.Record) error) error {
	prefix := []byte(recPrefix + orgID + ":" + chainKey + ":")

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recKey(orgID, chainKey, fromSeq)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			record := &audit.Record{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, record)
			}); err != nil {
				return err
			}
			if toSeq > 0 && record.SequenceNumber > toSeq {
				return nil
			}
			if err := fn(record); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query scans the organization's records with the shared predicate
// matcher
func (b *BadgerStore) Query(ctx context.Context, q *audit.Query) (*audit.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := audit.SearchTerms(q.Text)
	prefix := []byte(recPrefix + q.OrganizationID + ":")

	matched := []*audit.Record{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			record := &audit.Record{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, record)
			}); err != nil {
				return err
			}
			if audit.MatchesQuery(record, q, terms) {
				matched = append(matched, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.OrderRecords(matched, q)

	total := int64(len(matched))
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return &audit.Page{
		Records: matched[start:end],
		Total:   total,
		HasMore: int64(q.Offset+q.Limit) < total,
	}, nil
}

// Chains lists the organization's chain keys in lexical order
func (b *BadgerStore) Chains(ctx context.Context, orgID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := tailPrefix + orgID + ":"
	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Organizations lists every organization holding records in lexical
// order
func (b *BadgerStore) Organizations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	orgs := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(tailPrefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), tailPrefix)
			idx := strings.IndexByte(rest, ':')
			if idx < 0 {
				continue
			}
			orgID := rest[:idx]
			if _, ok := seen[orgID]; ok {
				continue
			}
			seen[orgID] = struct{}{}
			orgs = append(orgs, orgID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(orgs)
	return orgs, nil
}

// MarkArchived flips the archived flag on a sequence range. Batches run
// in ascending order so an interrupted run still leaves a contiguous
// archived prefix.
func (b *BadgerStore) MarkArchived(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64) (int64, error) {
	var changed int64

	for batchFrom := fromSeq; batchFrom <= toSeq; batchFrom += archiveBatchSize {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		batchTo := batchFrom + archiveBatchSize - 1
		if batchTo > toSeq {
			batchTo = toSeq
		}

		err := b.db.Update(func(txn *badger.Txn) error {
			for seq := batchFrom; seq <= batchTo; seq++ {
				rKey := recKey(orgID, chainKey, seq)
				item, err := txn.Get(rKey)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}

				record := &audit.Record{}
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, record)
				}); err != nil {
					return err
				}
				if record.Archived {
					continue
				}
				record.Archived = true

				data, err := json.Marshal(record)
				if err != nil {
					return err
				}
				if err := txn.Set(rKey, data); err != nil {
					return err
				}
				changed++
			}
			return nil
		})
		if err != nil {
			return changed, err
		}
	}

	// The tail key holds a copy of the last record, so it needs the
	// same flag when it falls inside the range.
	err := b.db.Update(func(txn *badger.Txn) error {
		tKey := tailKey(orgID, chainKey)
		item, err := txn.Get(tKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		tail := &audit.Record{}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, tail)
		}); err != nil {
			return err
		}
		if tail.SequenceNumber < fromSeq || tail.SequenceNumber > toSeq || tail.Archived {
			return nil
		}
		tail.Archived = true

		data, err := json.Marshal(tail)
		if err != nil {
			return err
		}
		return txn.Set(tKey, data)
	})
	if err != nil {
		return changed, err
	}
	return changed, nil
}

// Close stops garbage collection and closes the database
func (b *BadgerStore) Close() error {
	close(b.stop)
	return b.db.Close()
}
