package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tilehub/tilehub/internal/logging"
)

const (
	// DefaultMaxOpenStores 是同时打开的存储句柄上限的默认值。
	DefaultMaxOpenStores = 5
	// MinMaxOpenStores 保证驱逐后（保留 2 个）仍能为新句柄腾出位置。
	MinMaxOpenStores = evictionKeep + 1
)

// StoragePolicy 将 source 解析为规范名称，并决定其是否允许持久化瓦片。
type StoragePolicy interface {
	// ResolveStore 返回规范名称（未知 source 时为空）以及是否允许落盘。
	ResolveStore(source string) (name string, allowed bool)
}

// Options 描述 TileCache 的构造参数。
type Options struct {
	// Root 是缓存根目录，包含 lock 文件与各 db-<source> 目录。
	Root          string
	MaxOpenStores int
	Engine        EngineOptions
	// Opener 为空时使用 OpenBadger。
	Opener Opener
	Logger *logrus.Logger
	// Policy 为空时 source 按原样使用且都允许落盘。
	Policy StoragePolicy
}

// TileCache 是多 source 的磁盘瓦片缓存。读写失败只记录日志并降级为未命中/丢弃写入。
type TileCache struct {
	root     string
	logger   *logrus.Logger
	policy   StoragePolicy
	lock     *DirectoryLock
	registry *storeRegistry
}

// New 创建根目录并获取目录锁；锁已被其它实例持有时返回 ErrLockHeld。
func New(opts Options) (*TileCache, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	maxOpen := opts.MaxOpenStores
	if maxOpen == 0 {
		maxOpen = DefaultMaxOpenStores
	}
	if maxOpen < MinMaxOpenStores {
		return nil, fmt.Errorf("max open stores must be at least %d, got %d", MinMaxOpenStores, maxOpen)
	}
	opener := opts.Opener
	if opener == nil {
		opener = OpenBadger
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	lock, err := AcquireDirectoryLock(filepath.Join(root, lockFileName))
	if err != nil {
		return nil, err
	}

	c := &TileCache{
		root:     root,
		logger:   logger,
		policy:   opts.Policy,
		lock:     lock,
		registry: newStoreRegistry(root, maxOpen, opener, opts.Engine),
	}
	c.registry.onEvict = func(source string, err error) {
		entry := logger.WithFields(logging.StoreFields("evict_store", source))
		if err != nil {
			entry.WithError(err).Warn("关闭被驱逐的存储失败")
			return
		}
		entry.Debug("store evicted")
	}
	return c, nil
}

// Root 返回缓存根目录的绝对路径。
func (c *TileCache) Root() string {
	return c.root
}

// PutTile 尽力写入瓦片：失败只记录日志，仅在写入临界区被取消时返回 InterruptedError。
func (c *TileCache) PutTile(ctx context.Context, source string, key TileKey, data []byte, opts PutOptions) error {
	source, allowed := c.resolve(source)
	if !allowed {
		return nil
	}
	if !key.Valid() {
		c.logger.WithFields(logging.StoreFields("put_tile", source)).
			WithField("tile", key.String()).Warn("invalid tile key")
		return nil
	}

	rec := TileRecord{
		Key:          key,
		Data:         data,
		LastModified: opts.LastModified,
		Expires:      opts.Expires,
		ETag:         opts.ETag,
	}
	err := c.withHandle(ctx, source, func(h *StoreHandle) error {
		return runCritical(ctx, func() error {
			return h.put(rec)
		}, func() {
			_ = c.registry.discard(h)
		})
	})
	if err == nil {
		return nil
	}
	if IsInterrupted(err) {
		c.logger.WithFields(logging.StoreFields("put_tile", source)).
			WithField("tile", key.String()).Info("write interrupted, store handle closed")
		return err
	}
	c.logFailure("put_tile", source, key, err)
	return nil
}

// GetTile 返回缓存的瓦片；不存在、读错误或被取消都表现为未命中。
func (c *TileCache) GetTile(ctx context.Context, source string, key TileKey) (TileRecord, bool) {
	source, allowed := c.resolve(source)
	if !allowed || !key.Valid() {
		return TileRecord{}, false
	}

	var (
		rec TileRecord
		hit bool
	)
	err := c.withHandle(ctx, source, func(h *StoreHandle) error {
		var err error
		rec, hit, err = h.get(key)
		return err
	})
	if err != nil {
		c.logFailure("get_tile", source, key, err)
		return TileRecord{}, false
	}
	return rec, hit
}

// Contains 报告瓦片是否存在，任何错误都视为不存在。
func (c *TileCache) Contains(ctx context.Context, source string, key TileKey) bool {
	source, allowed := c.resolve(source)
	if !allowed || !key.Valid() {
		return false
	}

	var found bool
	err := c.withHandle(ctx, source, func(h *StoreHandle) error {
		var err error
		found, err = h.contains(key)
		return err
	})
	if err != nil {
		c.logFailure("contains_tile", source, key, err)
		return false
	}
	return found
}

// TileCount 返回 source 中的瓦片数，出错时返回 -1。
// 计数之后总是关闭该 source 的句柄，下次访问会重新打开。
func (c *TileCache) TileCount(ctx context.Context, source string) int64 {
	source, allowed := c.resolve(source)
	if !allowed {
		return 0
	}

	var n uint64
	err := c.withHandle(ctx, source, func(h *StoreHandle) error {
		var err error
		n, err = h.count()
		if closeErr := c.registry.discard(h); err == nil && closeErr != nil {
			c.logger.WithFields(logging.StoreFields("tile_count", source)).
				WithError(closeErr).Warn("关闭存储失败")
		}
		return err
	})
	if err != nil {
		c.logger.WithFields(logging.StoreFields("tile_count", source)).WithError(err).Warn("统计瓦片数失败")
		return -1
	}
	return int64(n)
}

// StoreSizeBytes 返回 source 目录占用的字节数，目录不存在时为 0。
// 计算过程中 ctx 被取消时返回 InterruptedError。
func (c *TileCache) StoreSizeBytes(ctx context.Context, source string) (int64, error) {
	source, _ = c.resolve(source)
	dir, err := c.registry.storeDir(source)
	if err != nil {
		return 0, err
	}
	return dirSize(ctx, dir)
}

// TotalSizeBytes 汇总所有 db-* 目录的大小。
func (c *TileCache) TotalSizeBytes(ctx context.Context) (int64, error) {
	sources, err := c.registry.diskSources()
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}
	var total int64
	for _, source := range sources {
		size, err := c.StoreSizeBytes(ctx, source)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// ClearStore 关闭 source 的句柄并删除其全部磁盘数据。
func (c *TileCache) ClearStore(ctx context.Context, source string) error {
	source, _ = c.resolve(source)
	err := c.registry.remove(ctx, source)
	if err == nil {
		c.logger.WithFields(logging.StoreFields("clear_store", source)).Info("store cleared")
		return nil
	}
	if IsInterrupted(err) {
		return err
	}
	c.logger.WithFields(logging.StoreFields("clear_store", source)).WithError(err).Warn("清理存储失败")
	return nil
}

// StoreExists 报告 source 在磁盘上是否已有存储目录。
func (c *TileCache) StoreExists(source string) bool {
	source, _ = c.resolve(source)
	dir, err := c.registry.storeDir(source)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Sources 返回磁盘上已存在存储的 source 列表。
func (c *TileCache) Sources() ([]string, error) {
	return c.registry.diskSources()
}

// OpenStores 返回当前打开的句柄快照。
func (c *TileCache) OpenStores() []StoreInfo {
	return c.registry.snapshot()
}

// SyncStore 将 source 的引擎数据刷盘。
func (c *TileCache) SyncStore(ctx context.Context, source string) error {
	source, _ = c.resolve(source)
	return c.withHandle(ctx, source, func(h *StoreHandle) error {
		return h.sync()
	})
}

// CompactStore 压缩 source 的引擎文件并回收空间。
func (c *TileCache) CompactStore(ctx context.Context, source string) error {
	source, _ = c.resolve(source)
	return c.withHandle(ctx, source, func(h *StoreHandle) error {
		return h.compact()
	})
}

// CloseAll 在后台任务中关闭所有句柄并阻塞等待其完成（无超时）。
// shutdown 为 true 时同时释放目录锁，之后缓存不再打开新的存储。重复调用是 no-op。
func (c *TileCache) CloseAll(shutdown bool) {
	var g errgroup.Group
	g.Go(func() error {
		err := c.registry.closeAll(shutdown)
		if shutdown {
			if lockErr := c.lock.Release(); lockErr != nil {
				err = errors.Join(err, fmt.Errorf("release lock: %w", lockErr))
			}
		}
		return err
	})

	fields := logrus.Fields{"action": "close_all", "shutdown": shutdown}
	if err := g.Wait(); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("关闭存储时出现错误")
		return
	}
	c.logger.WithFields(fields).Debug("all stores closed")
}

// withHandle 获取句柄并执行 fn。句柄被并发驱逐（errHandleClosed）时重新获取并重试，
// 直到成功或 ctx 结束；其它失败时关闭句柄。
func (c *TileCache) withHandle(ctx context.Context, source string, fn func(*StoreHandle) error) error {
	for {
		h, err := c.registry.acquire(ctx, source)
		if err != nil {
			return err
		}
		err = fn(h)
		if err == nil || IsInterrupted(err) {
			return err
		}
		if errors.Is(err, errHandleClosed) {
			if ctx.Err() != nil {
				return interrupted(ctx)
			}
			continue
		}
		_ = c.registry.discard(h)
		return err
	}
}

// resolve 返回 source 的规范名称及是否允许落盘；policy 不认识的名称按原样返回。
func (c *TileCache) resolve(source string) (string, bool) {
	if c.policy == nil {
		return source, true
	}
	name, allowed := c.policy.ResolveStore(source)
	if name == "" {
		name = source
	}
	return name, allowed
}

func (c *TileCache) logFailure(action, source string, key TileKey, err error) {
	c.logger.WithFields(logging.StoreFields(action, source)).
		WithField("tile", key.String()).
		WithError(err).
		Warn("tile store operation failed")
}
