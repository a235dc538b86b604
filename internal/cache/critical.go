package cache

import (
	"context"
	"errors"
)

// InterruptedError 表示 ctx 在操作开始前或临界区内被取消，Cause 为取消原因。
type InterruptedError struct {
	Cause error
}

func (e *InterruptedError) Error() string {
	return "interrupted: " + e.Cause.Error()
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}

// IsInterrupted 报告 err 是否由取消引起。
func IsInterrupted(err error) bool {
	var ie *InterruptedError
	return errors.As(err, &ie)
}

func interrupted(ctx context.Context) error {
	return &InterruptedError{Cause: context.Cause(ctx)}
}

// runCritical 执行一次磁盘变更，期间到达的 ctx 取消会被推迟：op 总是完整执行，
// 结束后若取消已到达则调用 onCancel 强制关闭受影响的句柄，并返回 InterruptedError。
// ctx 在进入前已经结束时不执行 op。
func runCritical(ctx context.Context, op func() error, onCancel func()) error {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	stop := context.AfterFunc(ctx, func() {})
	opErr := op()
	if stop() {
		return opErr
	}

	// AfterFunc 已触发：取消发生在临界区内。
	if onCancel != nil {
		onCancel()
	}
	return interrupted(ctx)
}
