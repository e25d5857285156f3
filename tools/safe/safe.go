package safe

import (
	"CareLink/logger"
	"CareLink/tools/errs"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover 在 defer 中使用，记录 panic 和调用栈
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[safe] panic recovered",
			zap.String("where", name),
			zap.Error(errs.ErrPanic(r)),
			zap.Stack("stack"),
		)
	}
}

// Call runs f and converts a panic into an error instead of unwinding further.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
