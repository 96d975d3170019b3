package metadb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/xlog"
)

// Backend is a connpool.Transport implementation over one Postgres shard.
type Backend struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, ensures the schema exists, and returns a ready
// Backend. Called once per metadata shard at node startup.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "metadb: parsing dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "metadb: connecting")
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "metadb: applying schema")
	}
	xlog.Infof("metadb: connected, pool max conns %d", pool.Config().MaxConns)
	return &Backend{pool: pool}, nil
}

// Close releases the pool.
func (b *Backend) Close() { b.pool.Close() }

// Call implements connpool.Transport: decode every item in req, run each
// item's handler against a single pooled connection acquired once for the
// whole call (one acquire/release pair, one SQL round trip per item), and
// encode the results back out in the same order.
func (b *Backend) Call(ctx context.Context, _ meta.ServerIdentifier, kind meta.ServiceKind, req []byte) ([]byte, error) {
	var in meta.SerializedData
	in.Wrap(req)
	n := in.Count()
	if n == meta.ErrCorrupt {
		return nil, errors.New("metadb: corrupt request stream")
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "metadb: acquire connection")
	}
	defer conn.Release()

	var out meta.SerializedData
	pos := 0
	for i := 0; i < n; i++ {
		payload, span := in.RecordAt(pos)
		if span == meta.ErrCorrupt {
			return nil, errors.New("metadb: corrupt request record")
		}
		var item meta.MetaProcessInfo
		if !meta.DecodeParam(kind, payload, &item) {
			return nil, errors.New("metadb: corrupt request record")
		}

		qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		item.ErrorCode = dispatch(qctx, conn.Conn(), kind, &item)
		cancel()

		meta.EncodeResponse(&out, &item)
		pos += span
	}
	return out.Bytes(), nil
}
