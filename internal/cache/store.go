package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// TileKey 在单个 source 的存储内唯一定位一张瓦片。
type TileKey struct {
	X    int
	Y    int
	Zoom int
}

// String 输出 z/x/y 形式，便于日志与路由复用。
func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Valid 要求坐标均为非负且可以放入 uint32。
func (k TileKey) Valid() bool {
	return inRange(k.X) && inRange(k.Y) && inRange(k.Zoom)
}

func inRange(v int) bool {
	return v >= 0 && uint64(v) <= uint64(^uint32(0))
}

// engineKey 将瓦片坐标编码为 12 字节大端键（zoom|x|y），同一 zoom 的瓦片在引擎中相邻。
func (k TileKey) engineKey() []byte {
	buf := make([]byte, tileKeySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(k.Zoom))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.X))
	binary.BigEndian.PutUint32(buf[8:12], uint32(k.Y))
	return buf
}

const tileKeySize = 12

// TileRecord 表示一张缓存瓦片及其 HTTP 元数据。
type TileRecord struct {
	Key          TileKey
	Data         []byte
	LastModified *time.Time
	Expires      *time.Time
	ETag         string
}

// PutOptions 控制写入瓦片时附带的可选元数据。
type PutOptions struct {
	LastModified *time.Time
	Expires      *time.Time
	ETag         string
}

// Engine 是单个 source 目录上的嵌入式 KV 引擎，仅由 StoreHandle 持有。
type Engine interface {
	Put(key, value []byte) error
	// Get 在键不存在时返回 ErrKeyNotFound。
	Get(key []byte) ([]byte, error)
	Contains(key []byte) (bool, error)
	Count() (uint64, error)
	Sync() error
	Compact() error
	Close() error
}

// Opener 在 dir 上打开一个引擎实例。
type Opener func(dir string, opts EngineOptions) (Engine, error)

// EngineOptions 描述引擎调优参数，零值表示使用引擎默认值。
type EngineOptions struct {
	SyncWrites       bool
	MemTableSize     int64
	ValueLogFileSize int64
	Compression      string
}

var (
	// ErrLockHeld 表示另一个实例正在使用同一缓存根目录。
	ErrLockHeld = errors.New("cache directory lock is held by another instance")
	// ErrCacheClosed 表示缓存已经 shutdown，不再打开新的存储。
	ErrCacheClosed = errors.New("tile cache is closed")
	// ErrInvalidSource 表示 source 名称不能映射为单级目录。
	ErrInvalidSource = errors.New("invalid source name")
	// ErrKeyNotFound 由 Engine.Get 在键不存在时返回。
	ErrKeyNotFound = errors.New("key not found")

	errHandleClosed = errors.New("store handle is closed")
)

// OpenError 表示某个 source 的引擎目录无法打开（损坏、权限等）。
type OpenError struct {
	Source string
	Dir    string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open store %s (%s): %v", e.Source, e.Dir, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
