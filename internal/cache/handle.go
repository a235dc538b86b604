package cache

import (
	"errors"
	"sync"
	"time"
)

// StoreHandle 独占一个 source 目录上打开的引擎实例。
// 引擎调用持有读锁，close 持有写锁，因此关闭会等待进行中的读写结束。
type StoreHandle struct {
	source string
	dir    string

	mu     sync.RWMutex
	engine Engine
	closed bool

	// lastAccess/seq 仅在 registry 锁内读写。
	lastAccess time.Time
	seq        uint64
}

func newStoreHandle(source, dir string, engine Engine) *StoreHandle {
	return &StoreHandle{
		source: source,
		dir:    dir,
		engine: engine,
	}
}

// Source 返回句柄对应的 source 名称。
func (h *StoreHandle) Source() string {
	return h.source
}

// Closed 报告句柄是否已关闭。
func (h *StoreHandle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *StoreHandle) withEngine(fn func(Engine) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errHandleClosed
	}
	return fn(h.engine)
}

func (h *StoreHandle) put(rec TileRecord) error {
	value, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return h.withEngine(func(e Engine) error {
		return e.Put(rec.Key.engineKey(), value)
	})
}

// get 的第二个返回值表示是否命中；未命中且无错误时返回 false, nil。
func (h *StoreHandle) get(key TileKey) (TileRecord, bool, error) {
	var value []byte
	err := h.withEngine(func(e Engine) error {
		var err error
		value, err = e.Get(key.engineKey())
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return TileRecord{}, false, nil
	}
	if err != nil {
		return TileRecord{}, false, err
	}
	rec, err := decodeRecord(key, value)
	if err != nil {
		return TileRecord{}, false, err
	}
	return rec, true, nil
}

func (h *StoreHandle) contains(key TileKey) (bool, error) {
	var found bool
	err := h.withEngine(func(e Engine) error {
		var err error
		found, err = e.Contains(key.engineKey())
		return err
	})
	return found, err
}

func (h *StoreHandle) count() (uint64, error) {
	var n uint64
	err := h.withEngine(func(e Engine) error {
		var err error
		n, err = e.Count()
		return err
	})
	return n, err
}

func (h *StoreHandle) sync() error {
	return h.withEngine(func(e Engine) error {
		return e.Sync()
	})
}

func (h *StoreHandle) compact() error {
	return h.withEngine(func(e Engine) error {
		return e.Compact()
	})
}

// close 幂等，只有第一次调用会关闭引擎并返回其错误。
func (h *StoreHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	engine := h.engine
	h.engine = nil
	if engine == nil {
		return nil
	}
	return engine.Close()
}
