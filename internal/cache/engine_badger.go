package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const badgerBlockCacheSize = 32 << 20

// badgerEngine 用 badger 实现 Engine，每个 source 目录一个 DB。
type badgerEngine struct {
	db *badger.DB
}

// OpenBadger 是默认的 Opener。
func OpenBadger(dir string, opts EngineOptions) (Engine, error) {
	compression, err := parseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithCompression(compression).
		WithBlockCacheSize(badgerBlockCacheSize)
	if opts.MemTableSize > 0 {
		bopts = bopts.WithMemTableSize(opts.MemTableSize)
	}
	if opts.ValueLogFileSize > 0 {
		bopts = bopts.WithValueLogFileSize(opts.ValueLogFileSize)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &badgerEngine{db: db}, nil
}

func parseCompression(raw string) (options.CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "snappy":
		return options.Snappy, nil
	case "zstd":
		return options.ZSTD, nil
	case "none":
		return options.None, nil
	default:
		return options.None, fmt.Errorf("unsupported compression: %s", raw)
	}
}

func (e *badgerEngine) Put(key, value []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (e *badgerEngine) Contains(key []byte) (bool, error) {
	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *badgerEngine) Count() (uint64, error) {
	var n uint64
	err := e.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (e *badgerEngine) Sync() error {
	return e.db.Sync()
}

// Compact 合并 LSM 层级后回收 value log，直到没有可回收的文件。
func (e *badgerEngine) Compact() error {
	if err := e.db.Flatten(1); err != nil {
		return fmt.Errorf("flatten: %w", err)
	}
	for {
		err := e.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		return fmt.Errorf("value log gc: %w", err)
	}
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}
