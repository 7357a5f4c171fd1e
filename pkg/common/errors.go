package common

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrCode is the status a job reports to its caller.
type ErrCode uint16

const (
	ERR_OK                   ErrCode = 0
	ERR_JOIN_TOO_BIG         ErrCode = 2001
	ERR_LIMIT_TOO_BIG        ErrCode = 2002
	ERR_DBJ_DISK_USAGE_LIMIT ErrCode = 2003
	ERR_UNION_TOO_BIG        ErrCode = 2004
	ERR_MORE_THAN_1_ROW      ErrCode = 2005
	ERR_ASSERTION            ErrCode = 2006
	ERR_ABORTED              ErrCode = 2007
	ERR_DISK_IO              ErrCode = 2008
	ERR_INTERNAL             ErrCode = 2099
)

var errCodeToStr = map[ErrCode]string{
	ERR_OK:                   "ERR_OK",
	ERR_JOIN_TOO_BIG:         "ERR_JOIN_TOO_BIG",
	ERR_LIMIT_TOO_BIG:        "ERR_LIMIT_TOO_BIG",
	ERR_DBJ_DISK_USAGE_LIMIT: "ERR_DBJ_DISK_USAGE_LIMIT",
	ERR_UNION_TOO_BIG:        "ERR_UNION_TOO_BIG",
	ERR_MORE_THAN_1_ROW:      "ERR_MORE_THAN_1_ROW",
	ERR_ASSERTION:            "ERR_ASSERTION",
	ERR_ABORTED:              "ERR_ABORTED",
	ERR_DISK_IO:              "ERR_DISK_IO",
	ERR_INTERNAL:             "ERR_INTERNAL",
}

func (code ErrCode) String() string {
	if s, has := errCodeToStr[code]; has {
		return s
	}
	return fmt.Sprintf("ERR(%d)", uint16(code))
}

var errDecimalOverflow = errors.New("decimal overflow")

// ErrDiskIO marks failures on spill files.
var ErrDiskIO = errors.New("disk io")

// JobError carries a status code through the step pipeline.
type JobError struct {
	Code ErrCode
	Msg  string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func NewJobError(code ErrCode, format string, args ...any) error {
	return errors.WithStackDepth(&JobError{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}, 1)
}

// CodeOf maps any error to the job status code.
func CodeOf(err error) ErrCode {
	if err == nil {
		return ERR_OK
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Code
	}
	if errors.IsAssertionFailure(err) {
		return ERR_ASSERTION
	}
	if errors.Is(err, ErrDiskIO) {
		return ERR_DISK_IO
	}
	if errors.Is(err, context.Canceled) {
		return ERR_ABORTED
	}
	return ERR_INTERNAL
}

func IsResourceError(err error) bool {
	switch CodeOf(err) {
	case ERR_JOIN_TOO_BIG, ERR_LIMIT_TOO_BIG, ERR_DBJ_DISK_USAGE_LIMIT, ERR_UNION_TOO_BIG:
		return true
	}
	return false
}
