// Package fault 定义安装流程的错误分类。
package fault

import (
	"errors"
	"fmt"
)

var (
	// 目录级错误，会终止整个会话
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrCatalogMalformed   = errors.New("catalog malformed")

	// 单条目录记录错误，只跳过该记录
	ErrVersionUnparsable = errors.New("version unparsable")

	// 单个版本安装错误，继续处理下一个版本
	ErrDownloadFailed   = errors.New("download failed")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrConfigCorrupt    = errors.New("config corrupt")
	ErrHookFailed       = errors.New("hook failed")

	ErrInvalidSelection = errors.New("invalid selection")
)

// Error 携带错误类别、出错的路径或 URL 以及底层原因。
type Error struct {
	Kind   error
	Target string
	Err    error
}

// New 构造分类错误。
func New(kind error, target string, err error) *Error {
	return &Error{Kind: kind, Target: target, Err: err}
}

// Newf 以格式化消息作为底层原因构造分类错误。
func Newf(kind error, target, format string, args ...any) *Error {
	return &Error{Kind: kind, Target: target, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Target != "" {
		msg += " (" + e.Target + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露类别与原因，使 errors.Is 对两者都生效。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf 返回 err 链上的第一个分类，未分类时返回 nil。
func KindOf(err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for _, k := range []error{
		ErrCatalogUnavailable, ErrCatalogMalformed, ErrVersionUnparsable,
		ErrDownloadFailed, ErrExtractionFailed, ErrConfigCorrupt,
		ErrHookFailed, ErrInvalidSelection,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Label 返回用于日志与指标的短名称。
func Label(err error) string {
	switch KindOf(err) {
	case ErrCatalogUnavailable:
		return "catalog_unavailable"
	case ErrCatalogMalformed:
		return "catalog_malformed"
	case ErrVersionUnparsable:
		return "version_unparsable"
	case ErrDownloadFailed:
		return "download_failed"
	case ErrExtractionFailed:
		return "extraction_failed"
	case ErrConfigCorrupt:
		return "config_corrupt"
	case ErrHookFailed:
		return "hook_failed"
	case ErrInvalidSelection:
		return "invalid_selection"
	default:
		return "unknown"
	}
}
