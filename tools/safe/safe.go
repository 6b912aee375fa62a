package safe

import (
	"runtime/debug"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that recovers and logs panics,
// so that one misbehaving task does not crash the relay.
func Go(name string, f func()) {
	go func() {
		defer Recover(name, nil)
		f()
	}()
}

// Recover must be deferred directly. When a panic is caught it is logged
// and, if onPanic is non-nil, passed to it as an error.
func Recover(name string, onPanic func(error)) {
	r := recover()
	if r == nil {
		return
	}
	err := errs.ErrPanic(r)
	logger.Error("panic recovered",
		zap.String("task", name),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()))
	if onPanic != nil {
		onPanic(err)
	}
}
