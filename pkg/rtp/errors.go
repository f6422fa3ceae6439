package rtp

import "fmt"

// FrameErrorCode код причины отбраковки кадра
type FrameErrorCode int

const (
	ErrorCodeFrameTooShort FrameErrorCode = iota + 1000
	ErrorCodeFrameBadVersion
	ErrorCodeFrameTruncated
	ErrorCodeFrameBadSize
	ErrorCodeFrameWrongLaw
	ErrorCodeFrameUnsupportedPayload
	ErrorCodeFrameShortWrite
)

// String возвращает строковое представление кода ошибки
func (code FrameErrorCode) String() string {
	switch code {
	case ErrorCodeFrameTooShort:
		return "FrameTooShort"
	case ErrorCodeFrameBadVersion:
		return "FrameBadVersion"
	case ErrorCodeFrameTruncated:
		return "FrameTruncated"
	case ErrorCodeFrameBadSize:
		return "FrameBadSize"
	case ErrorCodeFrameWrongLaw:
		return "FrameWrongLaw"
	case ErrorCodeFrameUnsupportedPayload:
		return "FrameUnsupportedPayload"
	case ErrorCodeFrameShortWrite:
		return "FrameShortWrite"
	default:
		return fmt.Sprintf("FrameErrorCode(%d)", int(code))
	}
}

// FrameError ошибка кодирования или разбора кадра
type FrameError struct {
	Code        FrameErrorCode
	Message     string
	PayloadType uint8
	Wrapped     error
}

func (e *FrameError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FrameError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *FrameError) Is(target error) bool {
	t, ok := target.(*FrameError)
	return ok && t.Code == e.Code
}

func newFrameError(code FrameErrorCode, pt uint8, format string, args ...interface{}) *FrameError {
	return &FrameError{Code: code, PayloadType: pt, Message: fmt.Sprintf(format, args...)}
}

// Образцы для errors.Is
var (
	ErrFrameTooShort    = &FrameError{Code: ErrorCodeFrameTooShort}
	ErrFrameBadVersion  = &FrameError{Code: ErrorCodeFrameBadVersion}
	ErrFrameTruncated   = &FrameError{Code: ErrorCodeFrameTruncated}
	ErrFrameBadSize     = &FrameError{Code: ErrorCodeFrameBadSize}
	ErrFrameWrongLaw    = &FrameError{Code: ErrorCodeFrameWrongLaw}
	ErrFrameUnsupported = &FrameError{Code: ErrorCodeFrameUnsupportedPayload}
	ErrFrameShortWrite  = &FrameError{Code: ErrorCodeFrameShortWrite}
)

// DropReason короткая метка причины для метрик
func DropReason(err error) string {
	if fe, ok := err.(*FrameError); ok {
		return fe.Code.String()
	}
	return "other"
}
