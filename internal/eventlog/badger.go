package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ashita-ai/simuverse/internal/model"
)

// Key layout: "e" 0x00 <4-byte big-endian id length> <agent id> <8-byte
// big-endian sequence>. The length prefix keeps one agent's prefix from
// matching any other id, whatever bytes the ids contain. Iterating an
// agent's prefix yields its entries in append order.
var (
	entryPrefix = []byte("e\x00")
	seqKey      = []byte("meta\x00seq")
)

const seqBandwidth = 256

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string
	// InMemory keeps all data in memory; used by tests.
	InMemory bool
	Logger   *slog.Logger
}

// BadgerStore persists entries in an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens the store described by opts.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("eventlog: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open badger: %w", err)
	}
	seq, err := db.GetSequence(seqKey, seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func agentPrefix(agentID string) []byte {
	k := make([]byte, 0, len(entryPrefix)+4+len(agentID)+8)
	k = append(k, entryPrefix...)
	k = binary.BigEndian.AppendUint32(k, uint32(len(agentID)))
	return append(k, agentID...)
}

func entryKey(agentID string, n uint64) []byte {
	return binary.BigEndian.AppendUint64(agentPrefix(agentID), n)
}

// agentFromKey extracts the agent id from an entry key.
func agentFromKey(k []byte) string {
	rest := k[len(entryPrefix):]
	if len(rest) < 4 {
		return ""
	}
	n := int(binary.BigEndian.Uint32(rest))
	rest = rest[4:]
	if len(rest) < n {
		return ""
	}
	return string(rest[:n])
}

func (b *BadgerStore) Append(_ context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		n, err := b.seq.Next()
		if err != nil {
			return fmt.Errorf("eventlog: badger next sequence: %w", err)
		}
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("eventlog: marshal entry: %w", err)
		}
		if err := wb.Set(entryKey(e.AgentID, n), val); err != nil {
			return fmt.Errorf("eventlog: badger set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("eventlog: badger flush: %w", err)
	}
	return nil
}

func (b *BadgerStore) Entries(_ context.Context, agentID string) ([]model.LogEntry, error) {
	entries, err := b.scan(agentPrefix(agentID))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

func (b *BadgerStore) All(_ context.Context) (map[string][]model.LogEntry, error) {
	entries, err := b.scan(entryPrefix)
	if err != nil {
		return nil, err
	}
	return groupByAgent(entries), nil
}

func (b *BadgerStore) Agents(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = entryPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			id := agentFromKey(it.Item().Key())
			// One agent's entries are adjacent in key order.
			if len(ids) > 0 && ids[len(ids)-1] == id {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: badger agents: %w", err)
	}
	// Key order is by id length first.
	slices.Sort(ids)
	return ids, nil
}

func (b *BadgerStore) Clear(_ context.Context) error {
	if err := b.db.DropPrefix(entryPrefix); err != nil {
		return fmt.Errorf("eventlog: badger clear: %w", err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	if err := b.seq.Release(); err != nil {
		_ = b.db.Close()
		return fmt.Errorf("eventlog: badger release sequence: %w", err)
	}
	return b.db.Close()
}

func (b *BadgerStore) scan(prefix []byte) ([]model.LogEntry, error) {
	var out []model.LogEntry
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e model.LogEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: badger scan: %w", err)
	}
	return out, nil
}

// badgerLogger routes badger's logging into slog, dropping debug and info noise.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error("badger: " + fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
