package s3

import (
	"context"
	"errors"
)

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func ctxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
