package apperr

import "errors"

// Result is the discriminated outcome returned by directory actions:
// {"success": true, "data": ...} or {"success": false, "error": "..."}.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a successful result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail converts err into a failed result.
func Fail(err error) Result {
	if err == nil {
		return Result{Success: false, Error: "unknown error", Code: CodeInternal}
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return Result{Success: false, Error: appErr.Message, Code: appErr.Code}
	}
	return Result{Success: false, Error: err.Error(), Code: CodeInternal}
}

// HTTPStatus is the status a handler should use when writing r.
func (r Result) HTTPStatus() int {
	if r.Success {
		return 200
	}
	return Status(r.Code)
}
