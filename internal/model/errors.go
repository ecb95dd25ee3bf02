package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 生成失败的类别
type ErrorKind int

const (
	// ValidationError 本地校验失败，不会请求上游
	ValidationError ErrorKind = iota + 1
	// UpstreamTransportError 网络错误、超时或上游返回非 2xx
	UpstreamTransportError
	// UpstreamContractError 上游有响应但没有可用的 link
	UpstreamContractError
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationError:
		return "validation"
	case UpstreamTransportError:
		return "upstream_transport"
	case UpstreamContractError:
		return "upstream_contract"
	default:
		return "unknown"
	}
}

// 面向用户的固定提示
const (
	MsgEmptyPrompt    = "Please provide a description for the image you want to generate"
	MsgInvalidBody    = "Invalid request body"
	MsgUnexpected     = "An unexpected error occurred while generating the image"
	MsgNoImageURLBase = "No valid image URL received from the API. Response: "
)

// GenerationError 携带 HTTP 状态码和用户可见信息
type GenerationError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PromptTooLongMessage 默认上限 1000 时为 "Prompt is too long. Please keep it under 1000 characters"
func PromptTooLongMessage(maxLen int) string {
	return fmt.Sprintf("Prompt is too long. Please keep it under %d characters", maxLen)
}

func NewValidationError(msg string) *GenerationError {
	return &GenerationError{Kind: ValidationError, Status: http.StatusBadRequest, Message: msg}
}

// NewTransportError status 为 0 时按 500 处理
func NewTransportError(status int, msg string, err error) *GenerationError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &GenerationError{Kind: UpstreamTransportError, Status: status, Message: msg, Err: err}
}

func NewContractError(rawBody string) *GenerationError {
	return &GenerationError{
		Kind:    UpstreamContractError,
		Status:  http.StatusInternalServerError,
		Message: MsgNoImageURLBase + rawBody,
	}
}

// AsGenerationError 把任意错误归一为 GenerationError，未识别的错误按 500 处理
func AsGenerationError(err error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	msg := MsgUnexpected
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &GenerationError{Kind: UpstreamTransportError, Status: http.StatusInternalServerError, Message: msg, Err: err}
}
