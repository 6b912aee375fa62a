package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Relay error codes. None of them is fatal to the process.
const (
	ServerInternalError = 500
	DecodeErrorCode     = 1001 // malformed frame, drop frame keep connection
	RouteMissCode       = 1002 // unknown type, drop and log
	LookupMissCode      = 1003 // target offline, silent drop
	DeliveryIOCode      = 1004 // write to a stale handle, implicit disconnect
	UnauthorizedCode    = 1101
	BadRequestCode      = 1102
)

var (
	ErrDecode       = NewCodeError(DecodeErrorCode, "DecodeError")
	ErrRouteMiss    = NewCodeError(RouteMissCode, "RouteMiss")
	ErrLookupMiss   = NewCodeError(LookupMissCode, "LookupMiss")
	ErrDeliveryIO   = NewCodeError(DeliveryIOCode, "DeliveryIOError")
	ErrUnauthorized = NewCodeError(UnauthorizedCode, "Unauthorized")
	ErrBadRequest   = NewCodeError(BadRequestCode, "BadRequest")
	ErrInternal     = NewCodeError(ServerInternalError, "ServerInternalError")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack to a copy of e.
func (e CodeError) Wrap() error {
	c := e
	return pkgerrors.WithStack(&c)
}

// WrapMsg clones e, appends msg and key/value pairs to the detail, and
// attaches a stack.
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	c := e
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if c.Detail == "" {
			c.Detail = detail
		} else {
			c.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(&c)
}

// Is matches any error in err's chain carrying the same code.
func (e CodeError) Is(err error) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == e.Code
	}
	return false
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Code returns the relay code carried by err, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
