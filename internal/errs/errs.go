// Package errs 定义了服务内统一的错误分类。
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind 表示错误的类别，决定调用方如何处理（终止启动、重试、直接返回等）。
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration 启动时必需配置缺失，进程不应启动。
	KindConfiguration
	// KindConversion 文档转换失败，在转换器内部恢复为占位文档。
	KindConversion
	// KindValidation SQL 安全校验未通过，查询中止。
	KindValidation
	// KindDownstream 向量库、Embedding、LLM 等下游调用失败，由任务队列重试。
	KindDownstream
	// KindInput 请求参数非法，不重试。
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindConversion:
		return "ConversionError"
	case KindValidation:
		return "ValidationError"
	case KindDownstream:
		return "DownstreamError"
	case KindInput:
		return "InputError"
	default:
		return "UnknownError"
	}
}

// Error 是带类别和上下文字段的错误。
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// With 追加上下文字段并返回自身，便于链式调用。
func (e *Error) With(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// New 创建一个指定类别的错误。
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Input 创建一个 InputError。
func Input(op, format string, args ...interface{}) *Error {
	return New(KindInput, op, fmt.Errorf(format, args...))
}

// Validation 创建一个 ValidationError。
func Validation(op, reason string) *Error {
	return New(KindValidation, op, errors.New(reason))
}

// Configuration 创建一个 ConfigurationError。
func Configuration(op, format string, args ...interface{}) *Error {
	return New(KindConfiguration, op, fmt.Errorf(format, args...))
}

// Downstream 包装一个下游错误。
func Downstream(op string, err error) *Error {
	return New(KindDownstream, op, err)
}

// Conversion 包装一个转换错误。
func Conversion(op string, err error) *Error {
	return New(KindConversion, op, err)
}

// KindOf 返回错误链中第一个 *Error 的类别。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误链中是否包含指定类别的错误。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus 将错误类别映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput, KindValidation:
		return http.StatusBadRequest
	case KindDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
