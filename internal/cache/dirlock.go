package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danjacques/gofslock/fslock"
)

const lockFileName = "lock"

// DirectoryLock 是缓存根目录上的进程级咨询锁，防止两个实例同时操作同一目录。
type DirectoryLock struct {
	path string

	mu     sync.Mutex
	handle fslock.Handle
}

// AcquireDirectoryLock 以非阻塞方式获取 path 上的锁；已被占用时返回 ErrLockHeld。
func AcquireDirectoryLock(path string) (*DirectoryLock, error) {
	handle, err := fslock.Lock(path)
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return &DirectoryLock{path: path, handle: handle}, nil
}

// Path 返回锁文件路径。
func (l *DirectoryLock) Path() string {
	return l.path
}

// Held 报告锁是否仍被当前实例持有。
func (l *DirectoryLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Release 释放锁，重复调用是 no-op。
func (l *DirectoryLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil
	}
	err := l.handle.Unlock()
	l.handle = nil
	return err
}
