package driver

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webitel/connpool/internal/pool/entry"
)

// PGXFactory is a ConnectionFactory over jackc/pgx's low-level pgconn,
// for operators who want a working Postgres pool without writing their
// own factory. The pool only ever sees entry.RawConn; pgxConn adapts
// pgconn.PgConn's context-taking Close to the contract's plain error
// return.
type PGXFactory struct {
	dsn string
}

// NewPGXFactory returns a factory dialing dsn (a libpq-style connection
// string or URL) on every Connect call.
func NewPGXFactory(dsn string) *PGXFactory {
	return &PGXFactory{dsn: dsn}
}

func (f *PGXFactory) DSN() string { return f.dsn }

func (f *PGXFactory) Connect(ctx context.Context) (entry.RawConn, error) {
	conn, err := pgconn.Connect(ctx, f.dsn)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgconn.PgConn
}

func (c *pgxConn) Close() error {
	return c.conn.Close(context.Background())
}

// Ping satisfies the prober's IsValid capability detection for drivers
// that support a lightweight liveness check.
func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec satisfies prober.QueryProber for drivers without a native Ping,
// running connectionTestQuery via the simple query protocol.
func (c *pgxConn) Exec(ctx context.Context, query string) error {
	return c.conn.Exec(ctx, query).Close()
}
