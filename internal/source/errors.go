package source

import (
	"errors"
	"fmt"
)

// ErrInvalidSource 是所有描述符解析/分类失败的哨兵错误，调用方用 errors.Is 判断。
var ErrInvalidSource = errors.New("invalid source")

// InvalidSourceError 记录出错的 uri 与原因。
type InvalidSourceError struct {
	URI    string
	Reason string
	Err    error
}

func (e *InvalidSourceError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("invalid source: %s", e.Reason)
	}
	return fmt.Sprintf("invalid source %q: %s", e.URI, e.Reason)
}

func (e *InvalidSourceError) Is(target error) bool {
	return target == ErrInvalidSource
}

func (e *InvalidSourceError) Unwrap() error {
	return e.Err
}

func invalid(uri, reason string, err error) error {
	return &InvalidSourceError{URI: uri, Reason: reason, Err: err}
}
