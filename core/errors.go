package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// Code 用于分类（是否可重试、HTTP 状态映射），Module 标识出错的模块，
// Err 保留底层错误，可通过 errors.Is / errors.As 继续展开。
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "UNAVAILABLE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "recall", "reason"）
	Err     error  // 底层错误，可为空
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Module + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Module + ": " + e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 比较，便于 errors.Is(err, ErrProfileNotFound) 这类判断。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// GetDomainError 沿错误链查找 DomainError，找不到返回 nil
func GetDomainError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 依赖不可用（可重试）
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
)

// 模块名称常量
const (
	ModuleStore   = "store"
	ModuleRecall  = "recall"
	ModuleFilter  = "filter"
	ModuleRank    = "rank"
	ModuleReason  = "reason"
	ModulePersist = "persist"
	ModuleJobs    = "jobs"
	ModuleService = "service"
)

var (
	// ErrProfileNotFound 用户画像不存在；对应任务属于永久失败，不重试。
	ErrProfileNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "profile not found")
	// ErrInvalidProfile 画像数据不满足约束（如 embedding 维度不一致）。
	ErrInvalidProfile = NewDomainError(ModuleStore, ErrorCodeInvalidInput, "invalid profile")
)

// IsNotFound 检查错误链中是否存在 NOT_FOUND
func IsNotFound(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Code == ErrorCodeNotFound
}

// IsUnavailable 检查错误链中是否存在 UNAVAILABLE
func IsUnavailable(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Code == ErrorCodeUnavailable
}

// IsInvalidInput 检查错误链中是否存在 INVALID_INPUT
func IsInvalidInput(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Code == ErrorCodeInvalidInput
}
