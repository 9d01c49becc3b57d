package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
	ErrorClassConflict
	ErrorClassUnavailable
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if errors.Is(err, ErrVersionConflict) {
		return ErrorClassConflict
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return ErrorClassUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "57P01", "57P02", "57P03":
			return ErrorClassUnavailable
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return ErrorClassUnavailable
		}
		return ErrorClassPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassPermanent
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ErrorClassUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassUnavailable
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization ||
		class == ErrorClassConflict
}

func IsUnavailable(err error) bool {
	return ClassifyError(err) == ErrorClassUnavailable
}

var (
	// Caller-facing taxonomy.
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrNotFound            = errors.New("not found")

	// Store-internal signals, never surfaced past the purchase coordinator.
	ErrVersionConflict = errors.New("version conflict")
	ErrOrderExists     = errors.New("order already exists")
)
