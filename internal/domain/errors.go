package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 业务错误分类，决定对外暴露的状态码
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"        // 实体不存在或不属于调用方
	KindForbidden  ErrorKind = "forbidden"        // 邮件已销毁、超出 GDPR 窗口
	KindConflict   ErrorKind = "conflict"         // 状态不符、无可用地址槽
	KindValidation ErrorKind = "validation_error" // 请求载荷不完整或格式错误
	KindInternal   ErrorKind = "internal_error"   // 持久化等意外失败
)

// 业务原因码
const (
	CodeNotFound          = "not_found"
	CodeDestroyed         = "destroyed"
	CodeNotEligible       = "not_eligible"
	CodeGDPRExpired       = "gdpr_expired"
	CodeNoAvailability    = "no_availability"
	CodeDuplicateRequest  = "duplicate_request"
	CodeIllegalTransition = "illegal_transition"
	CodeUserNotFound      = "user_not_found"
	CodeMissingUserID     = "missing_userId"
	CodeMissingItemID     = "missing_itemId"
	CodeInvalidJSON       = "invalid_json"
	CodeInvalidPayload    = "invalid_payload"
	CodeInvalidAddress    = "invalid_address"
	CodeInternal          = "internal_error"
)

// Error 携带分类与原因码的业务错误
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails 附加诊断信息，返回同一个错误便于链式调用
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// NotFound 构造 NotFound 错误
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Forbidden 构造 Forbidden 错误
func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

// Conflict 构造 Conflict 错误
func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// Validation 构造校验错误
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// Internal 包装意外错误
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// KindOf 返回错误分类，非业务错误一律视为 Internal
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf 返回原因码
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
