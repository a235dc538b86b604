package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	storeDirPrefix = "db-"
	// evictionKeep 是驱逐后保留的最近访问句柄数（不含即将打开的新句柄）。
	evictionKeep = 2
)

// StoreInfo 描述一个当前打开的存储句柄，供诊断接口使用。
type StoreInfo struct {
	Source     string    `json:"source"`
	LastAccess time.Time `json:"last_access"`
}

// storeRegistry 维护 source → StoreHandle 映射，所有结构性修改都在 mu 内串行执行。
type storeRegistry struct {
	root    string
	maxOpen int
	opener  Opener
	engine  EngineOptions
	now     func() time.Time

	mu      sync.Mutex
	handles map[string]*StoreHandle
	seq     uint64
	closed  bool

	// onEvict 在句柄因超出上限被关闭后调用，仅用于日志。
	onEvict func(source string, err error)
}

func newStoreRegistry(root string, maxOpen int, opener Opener, engine EngineOptions) *storeRegistry {
	return &storeRegistry{
		root:    root,
		maxOpen: maxOpen,
		opener:  opener,
		engine:  engine,
		now:     time.Now,
		handles: make(map[string]*StoreHandle),
	}
}

// acquire 返回 source 的打开句柄，必要时先驱逐再打开。引擎打开在临界区内执行。
func (r *storeRegistry) acquire(ctx context.Context, source string) (*StoreHandle, error) {
	dir, err := r.storeDir(source)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrCacheClosed
	}
	if h, ok := r.handles[source]; ok {
		r.touchLocked(h)
		return h, nil
	}

	if len(r.handles) >= r.maxOpen {
		r.evictLocked()
	}

	var handle *StoreHandle
	err = runCritical(ctx, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		engine, err := r.opener(dir, r.engine)
		if err != nil {
			return err
		}
		handle = newStoreHandle(source, dir, engine)
		return nil
	}, func() {
		if handle != nil {
			_ = handle.close()
		}
	})
	if err != nil {
		if IsInterrupted(err) {
			return nil, err
		}
		return nil, &OpenError{Source: source, Dir: dir, Err: err}
	}

	r.touchLocked(handle)
	r.handles[source] = handle
	return handle, nil
}

func (r *storeRegistry) touchLocked(h *StoreHandle) {
	r.seq++
	h.seq = r.seq
	h.lastAccess = r.now()
}

// evictLocked 按最近访问时间升序排序，关闭除最近两个以外的所有句柄。
func (r *storeRegistry) evictLocked() {
	ordered := make([]*StoreHandle, 0, len(r.handles))
	for _, h := range r.handles {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].lastAccess.Equal(ordered[j].lastAccess) {
			return ordered[i].lastAccess.Before(ordered[j].lastAccess)
		}
		return ordered[i].seq < ordered[j].seq
	})

	for i := 0; i < len(ordered)-evictionKeep; i++ {
		h := ordered[i]
		delete(r.handles, h.source)
		err := h.close()
		if r.onEvict != nil {
			r.onEvict(h.source, err)
		}
	}
}

// discard 将 h 从注册表移除（若仍是当前映射）并关闭它。
// 关闭在 mu 内完成，同一目录上不会出现新旧两个引擎同时打开。
func (r *storeRegistry) discard(h *StoreHandle) error {
	if h == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.source]; ok && cur == h {
		delete(r.handles, h.source)
	}
	return h.close()
}

// remove 关闭 source 的句柄并递归删除其目录。
func (r *storeRegistry) remove(ctx context.Context, source string) error {
	dir, err := r.storeDir(source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 目录锁在 shutdown 时已释放，之后目录可能属于新的持锁实例。
	if r.closed {
		return ErrCacheClosed
	}

	h := r.handles[source]
	return runCritical(ctx, func() error {
		if h != nil {
			delete(r.handles, source)
			if err := h.close(); err != nil {
				return fmt.Errorf("close store %s: %w", source, err)
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove store %s: %w", source, err)
		}
		return nil
	}, nil)
}

// closeAll 关闭所有句柄并清空注册表；shutdown 后不再允许打开新句柄。
func (r *storeRegistry) closeAll(shutdown bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for source, h := range r.handles {
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", source, err))
		}
	}
	r.handles = make(map[string]*StoreHandle)
	if shutdown {
		r.closed = true
	}
	return errors.Join(errs...)
}

func (r *storeRegistry) snapshot() []StoreInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]StoreInfo, 0, len(r.handles))
	for source, h := range r.handles {
		result = append(result, StoreInfo{Source: source, LastAccess: h.lastAccess})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Source < result[j].Source
	})
	return result
}

func (r *storeRegistry) isOpen(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[source]
	return ok
}

// storeDir 将 source 映射为 root/db-<source>，拒绝无法作为单级目录名的 source。
func (r *storeRegistry) storeDir(source string) (string, error) {
	if err := validateSource(source); err != nil {
		return "", err
	}
	dir := filepath.Join(r.root, storeDirPrefix+source)
	if filepath.Dir(dir) != r.root {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return dir, nil
}

func validateSource(source string) error {
	if strings.TrimSpace(source) == "" || source == "." || source == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	if strings.ContainsAny(source, `/\`) || strings.ContainsRune(source, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return nil
}

// diskSources 列出根目录下已存在的 db-* 存储。
func (r *storeRegistry) diskSources() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, storeDirPrefix) {
			continue
		}
		if source := strings.TrimPrefix(name, storeDirPrefix); source != "" {
			result = append(result, source)
		}
	}
	sort.Strings(result)
	return result, nil
}
