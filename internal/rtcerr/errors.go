// Package rtcerr carries transport-neutral structured errors across the RTC
// facade, mirroring the teacher's Failure convention.
package rtcerr

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds spec.md §7 names for the exceptional
// (propagated, not returned-as-value) path.
type Code string

const (
	CodeNoSuchSession   Code = "no_such_session"
	CodeUnknownResource Code = "unknown_resource"
	CodeIOError         Code = "io_error"
	CodeInternal        Code = "internal"
)

// Failure is the structured error RTC operations return for the exceptional
// path. Deadlock and NotLockable are returned as LockResult values, not
// Failure, per spec.md §7.
type Failure struct {
	Code   Code
	Detail string
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return string(f.Code)
}

// NoSuchSession reports that the master holds no record for the session —
// the slave should interpret this as "master switched; abort and rebind".
func NoSuchSession(detail string) error {
	return Failure{Code: CodeNoSuchSession, Detail: detail}
}

// UnknownResource reports that no DataSourceSet member matches the name.
func UnknownResource(name string) error {
	return Failure{Code: CodeUnknownResource, Detail: fmt.Sprintf("unknown resource %q", name)}
}

// IOErrorf wraps an underlying I/O failure from a commit or log-streaming
// path. The caller's transaction is not silently rolled back; the slave is
// expected to re-issue finishTransaction(success=false).
func IOErrorf(format string, args ...any) error {
	return Failure{Code: CodeIOError, Detail: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected internal failure.
func Internal(detail string) error {
	return Failure{Code: CodeInternal, Detail: detail}
}

// IsNoSuchSession reports whether err is (or wraps) a NoSuchSession Failure.
func IsNoSuchSession(err error) bool {
	var f Failure
	return errors.As(err, &f) && f.Code == CodeNoSuchSession
}
