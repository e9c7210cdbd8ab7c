// Package apperr 定义跨限界上下文共享的错误分类。每个错误带有 Kind 供上层映射状态码，
// 以及 Code/Message 供客户端展示；同类错误可用 errors.Is 对哨兵值匹配
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind 错误类别
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientStock Kind = "insufficient_stock"
	KindNotFound          Kind = "not_found"
	KindTransient         Kind = "transient"
	KindConflict          Kind = "conflict"
	KindCacheUnavailable  Kind = "cache_unavailable"
	KindInternal          Kind = "internal"
)

// Error 自定义错误
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// ProductID 库存不足或商品不存在时的商品 ID
	ProductID string
	// Requested/Available 库存不足时的请求量与当时可用量
	Requested int64
	Available int64
	// IdempotencyKey 与幂等键相关的错误携带
	IdempotencyKey string
	// RetryAfter 瞬时错误建议的重试间隔
	RetryAfter time.Duration

	Err error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同 Kind 即视为匹配，哨兵值没有 Code 时只比较 Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// 哨兵值，用于 errors.Is
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTransient         = &Error{Kind: KindTransient}
	ErrConflict          = &Error{Kind: KindConflict}
)

// NewError 创建新的错误
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation 输入不合法
func Validation(code, message string) *Error {
	return NewError(KindValidation, code, message)
}

// NotFound 资源不存在
func NotFound(code, message string) *Error {
	return NewError(KindNotFound, code, message)
}

// ProductNotFound 商品不存在
func ProductNotFound(productID string) *Error {
	return &Error{
		Kind:      KindNotFound,
		Code:      "product_not_found",
		Message:   fmt.Sprintf("product %s not found", productID),
		ProductID: productID,
	}
}

// InsufficientStock 指定商品库存不足
func InsufficientStock(productID string, requested, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Code:      "insufficient_stock",
		Message:   fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productID, requested, available),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// Transient 存储层瞬时故障，重试耗尽后上抛
func Transient(err error, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindTransient,
		Code:       "transient",
		Message:    "temporary storage failure",
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// Conflict 状态冲突（非法状态迁移、幂等键载荷不一致等）
func Conflict(code, message string) *Error {
	return NewError(KindConflict, code, message)
}

// KindOf 返回错误链中第一个 *Error 的类别，非本包错误视为 internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As 提取错误链中的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
