package types

import (
	"errors"
	"fmt"
)

// ErrorCode 错误的机器可读分类，供HTTP层映射状态码
type ErrorCode string

const (
	// CodeValidation 输入不合法，直接返回调用方，不重试
	CodeValidation ErrorCode = "validation"
	// CodeUpstream 上游服务（embedding/生成）失败，任务置error，不自动重试
	CodeUpstream ErrorCode = "upstream"
	// CodeNotFound 未知job id或缺失的会话产物，读操作返回空而不是抛错
	CodeNotFound ErrorCode = "not_found"
	// CodeParseDegradation 抽取降级信号，仅内部使用，不应到达调用方
	CodeParseDegradation ErrorCode = "parse_degradation"
	// CodeInternal 其他内部错误
	CodeInternal ErrorCode = "internal"
)

// ValidationError 调用方输入错误
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError 构造一个校验错误
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError 上游协作方调用失败
type UpstreamError struct {
	Op  string // 失败的操作，如 "embed" / "generate"
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError 包装一个上游错误
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// NotFoundError 资源不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewNotFoundError 构造一个资源不存在错误
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ParseDegradation 抽取链降级记录。不是失败：启发式路径保证总能产出结果，
// 所以该错误只进trace，不作为任务失败返回。
type ParseDegradation struct {
	Strategy string
	Err      error
}

func (e *ParseDegradation) Error() string {
	return fmt.Sprintf("extraction strategy %s degraded: %v", e.Strategy, e.Err)
}

func (e *ParseDegradation) Unwrap() error { return e.Err }

// CodeOf 提取错误的分类码，未知错误归为internal
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeValidation
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return CodeUpstream
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return CodeNotFound
	}
	var pd *ParseDegradation
	if errors.As(err, &pd) {
		return CodeParseDegradation
	}
	return CodeInternal
}

var (
	// ErrNoExistingResume 会话没有已有简历原文，无法追加材料
	ErrNoExistingResume = &ValidationError{Message: "session has no existing resume to merge into"}
	// ErrEmptyText 上传内容为空
	ErrEmptyText = &ValidationError{Message: "no text content found in upload"}
)
