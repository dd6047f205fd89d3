package errors

import (
	"errors"
	"fmt"

	"twapexecution/pkg/errors/ecode"
)

// 带错误码的业务错误，code用于区分可恢复/致命
type Err struct {
	Code    int
	Message string
	cause   error
}

func (e *Err) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("code: %d, message: %s, cause: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func (e *Err) Unwrap() error {
	return e.cause
}

func New(code int, message string) error {
	return &Err{Code: code, Message: message}
}

func Newf(code int, format string, args ...any) error {
	return &Err{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误并附加错误码
func Wrap(code int, message string, cause error) error {
	return &Err{Code: code, Message: message, cause: cause}
}

// DecodeErr 解析错误码和提示信息，非业务错误统一按内部错误处理
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, "ok"
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return ecode.InternalErr, err.Error()
}

// Code 返回错误码，nil返回Success
func Code(err error) int {
	code, _ := DecodeErr(err)
	return code
}

// IsFatal 判断该错误是否终结当前执行
// 下单失败和精度查询失败是致命的，传输、消息解析、控制通道错误都可恢复
func IsFatal(err error) bool {
	switch Code(err) {
	case ecode.VenueOrderErr, ecode.PrecisionLookupErr:
		return true
	default:
		return false
	}
}
