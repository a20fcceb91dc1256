package jobs

import (
	"errors"

	"github.com/rushteam/matchkit/core"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不应重试的失败，运行时记录后直接确认消息。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断 err 是否不可重试。画像缺失与非法输入同样视为永久错误。
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	return core.IsNotFound(err) || core.IsInvalidInput(err)
}
