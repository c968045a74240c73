package errors

import (
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error, shaped area.op.reason.
type Code string

const (
	CodeIdentifyRequestInvalid      Code = "identify.request.invalid"
	CodeIdentifyClusterInconsistent Code = "identify.cluster.inconsistent"

	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreDatabaseUnavailable Code = "store.database.unavailable"
	CodeStoreMigrateFailure      Code = "store.migrate.failure"
	CodeStoreDriverUnsupported   Code = "store.driver.unsupported"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerRouteNotFound    Code = "server.route.not_found"
	CodeServerMethodNotAllowed Code = "server.method.not_allowed"
	CodeServerRateExceeded     Code = "server.ratelimit.exceeded"
	CodeServerInternalFailure  Code = "server.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the outermost code attached to err, or "" for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return ""
	}
}

// FieldsOf returns the structured context collected along the error chain.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

// IsUnavailable reports a transient failure the caller may retry as a whole.
func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func HTTPStatus(err error) int {
	switch {
	case HasCode(err, CodeServerMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case HasCode(err, CodeServerRateExceeded):
		return http.StatusTooManyRequests
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func reason(code Code) string {
	s := string(code)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
