// Package driver defines the ConnectionFactory contract the pool borrows
// raw connections from, plus the handful of driver-behavior quirks the
// controller needs to know about: which errors are connection-fatal, and
// which drivers require network-timeout changes to run on the caller's
// own goroutine.
package driver

import (
	"context"
	"errors"
	"strings"

	"github.com/webitel/connpool/internal/pool/entry"
)

// ConnectionFactory creates raw connections from a configured driver. It
// is the pool's only collaborator for actually reaching the database;
// everything else in this repository is driver-agnostic.
type ConnectionFactory interface {
	// Connect dials a new raw connection or returns an error.
	Connect(ctx context.Context) (entry.RawConn, error)
	// DSN returns the data source name/URL this factory was configured
	// with, used for driver-quirk detection (IsSynchronousDriver) and as
	// the prober's capability-cache key; never parsed for credentials
	// here.
	DSN() string
}

// FuncFactory adapts a plain function to ConnectionFactory, for tests and
// for embedding drivers that don't need their own type.
type FuncFactory struct {
	Dial func(ctx context.Context) (entry.RawConn, error)
	dsn  string
}

// NewFuncFactory returns a ConnectionFactory backed by dial, reporting dsn
// for quirk detection.
func NewFuncFactory(dsn string, dial func(ctx context.Context) (entry.RawConn, error)) *FuncFactory {
	return &FuncFactory{Dial: dial, dsn: dsn}
}

func (f *FuncFactory) Connect(ctx context.Context) (entry.RawConn, error) { return f.Dial(ctx) }
func (f *FuncFactory) DSN() string                                        { return f.dsn }

// recoverableSQLState reports whether a SQLState code is considered
// connection-fatal by default: class 08 ("connection exception") per the
// ANSI SQLState standard referenced throughout the corpus's SQL drivers.
func recoverableSQLState(code string) bool {
	return strings.HasPrefix(code, "08")
}

// FatalClassifier decides whether an error observed on a leased
// connection should mark its entry for eviction. The default classifies
// SQLState 08xxx as fatal; callers may widen the recoverable set via
// ExtraFatalCodes for driver-specific codes (e.g. Postgres's
// "57P01 admin_shutdown").
type FatalClassifier struct {
	ExtraFatalCodes map[string]bool
}

// SQLStateError is the minimal contract a driver error needs to expose
// for classification. Most drivers' error types already satisfy this
// (pgconn.PgError, go-sql-driver/mysql.MySQLError, etc.) without
// adaptation.
type SQLStateError interface {
	error
	SQLState() string
}

// IsFatal reports whether err should cause the owning entry to be
// evicted rather than returned to the bag clean.
func (c FatalClassifier) IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var se SQLStateError
	if !errors.As(err, &se) {
		return false
	}
	code := se.SQLState()
	if recoverableSQLState(code) {
		return true
	}
	return c.ExtraFatalCodes != nil && c.ExtraFatalCodes[code]
}

// IsSynchronousDriver reports whether dsn addresses a driver known to
// deadlock if a network-timeout change is dispatched to a different
// goroutine than the one currently owning the connection (a long-standing
// MySQL/MariaDB connector quirk). When true, the controller builds its
// proxies so that the session-reset call on Close runs on the goroutine
// that called Close instead of on a separate goroutine.
func IsSynchronousDriver(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "mysql:") || strings.HasPrefix(lower, "mariadb:") ||
		strings.Contains(lower, "mysql://") || strings.Contains(lower, "mariadb://")
}
