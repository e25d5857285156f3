package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPanic 把 recover() 的值转成 ServerInternalError，nil 返回 nil
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return pkgerrors.WithStack(&CodeError{
		Code:   ServerInternalError,
		Msg:    "panic error",
		Detail: fmt.Sprint(r),
	})
}
