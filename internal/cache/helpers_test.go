package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tilehub/tilehub/internal/logging"
)

// memBackend 是测试用的内存引擎集合，数据按目录保存，跨多次 open 保留。
type memBackend struct {
	mu       sync.Mutex
	data     map[string]map[string][]byte
	opens    map[string]int
	// live/maxLive 记录每个目录上同时打开的引擎数及其峰值。
	live     map[string]int
	maxLive  map[string]int
	engines  []*memEngine
	openErr  error
	getErr   error
	countErr error
	putErr   error
	onPut    func()
}

func newMemBackend() *memBackend {
	return &memBackend{
		data:    make(map[string]map[string][]byte),
		opens:   make(map[string]int),
		live:    make(map[string]int),
		maxLive: make(map[string]int),
	}
}

func (b *memBackend) open(dir string, _ EngineOptions) (Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	if b.data[dir] == nil {
		b.data[dir] = make(map[string][]byte)
	}
	b.opens[dir]++
	b.live[dir]++
	if b.live[dir] > b.maxLive[dir] {
		b.maxLive[dir] = b.live[dir]
	}
	e := &memEngine{backend: b, dir: dir}
	b.engines = append(b.engines, e)
	return e, nil
}

func (b *memBackend) openCount(dir string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[dir]
}

type memEngine struct {
	backend *memBackend
	dir     string
	closes  int
}

func (e *memEngine) Put(key, value []byte) error {
	if e.backend.onPut != nil {
		e.backend.onPut()
	}
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	if e.backend.putErr != nil {
		return e.backend.putErr
	}
	e.backend.data[e.dir][string(key)] = append([]byte(nil), value...)
	return nil
}

func (e *memEngine) Get(key []byte) ([]byte, error) {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	if e.backend.getErr != nil {
		return nil, e.backend.getErr
	}
	value, ok := e.backend.data[e.dir][string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (e *memEngine) Contains(key []byte) (bool, error) {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	_, ok := e.backend.data[e.dir][string(key)]
	return ok, nil
}

func (e *memEngine) Count() (uint64, error) {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	if e.backend.countErr != nil {
		return 0, e.backend.countErr
	}
	return uint64(len(e.backend.data[e.dir])), nil
}

func (e *memEngine) Sync() error    { return nil }
func (e *memEngine) Compact() error { return nil }

func (e *memEngine) Close() error {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	e.closes++
	if e.closes > 1 {
		return errors.New("engine closed twice")
	}
	e.backend.live[e.dir]--
	return nil
}

func discardLogger() *logrus.Logger {
	return logging.Discard()
}

// testEngineOptions 缩小 badger 内存占用，避免测试中同时打开多个存储时占用过多内存。
func testEngineOptions() EngineOptions {
	return EngineOptions{
		MemTableSize:     4 << 20,
		ValueLogFileSize: 4 << 20,
		Compression:      "none",
	}
}

// newTestCache 在临时目录上创建 TileCache，测试结束时 shutdown。
func newTestCache(t *testing.T, opts Options) *TileCache {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Opener == nil && opts.Engine == (EngineOptions{}) {
		opts.Engine = testEngineOptions()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.CloseAll(true) })
	return c
}

func openSources(c *TileCache) []string {
	infos := c.OpenStores()
	result := make([]string, len(infos))
	for i, info := range infos {
		result[i] = info.Source
	}
	return result
}
