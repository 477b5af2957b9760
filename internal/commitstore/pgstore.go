package commitstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// commitsSchema bootstraps the single table this store needs. Commits
// are immutable and content-addressed, so commit_id is the primary key
// and writes use ON CONFLICT DO NOTHING.
const commitsSchema = `
CREATE TABLE IF NOT EXISTS commits (
	commit_id  TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL,
	parent_cid TEXT NOT NULL DEFAULT '',
	update_bytes BYTEA NOT NULL,
	author     TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ NOT NULL,
	rev        TEXT NOT NULL DEFAULT '',
	sig        TEXT NOT NULL DEFAULT '',
	seq        BIGSERIAL
);
CREATE INDEX IF NOT EXISTS commits_doc_id_seq_idx ON commits (doc_id, seq);
`

// PgStore is a Postgres-backed Store, grounded on the teacher's
// ManagementDB.OpenManagement pool configuration and
// repo.MemBlockstore's LoadBlocks/PersistAll content-addressed
// persistence pattern.
type PgStore struct {
	pool *pgxpool.Pool
}

// OpenPgStore connects to Postgres, verifies the connection, and
// bootstraps the commits table.
func OpenPgStore(ctx context.Context, connString string) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("commitstore: parse config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("commitstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("commitstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, commitsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("commitstore: bootstrap schema: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// Close shuts down the connection pool.
func (p *PgStore) Close() {
	p.pool.Close()
}

func (p *PgStore) Put(ctx context.Context, c Commit) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO commits (commit_id, doc_id, parent_cid, update_bytes, author, message, ts, rev, sig)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (commit_id) DO NOTHING`,
		c.CommitID, c.DocID, c.ParentCID, c.UpdateBytes, c.Author, c.Message, c.Ts, c.Rev, c.Sig)
	if err != nil {
		return fmt.Errorf("commitstore: put %s: %w", c.CommitID, err)
	}
	return nil
}

func (p *PgStore) Get(ctx context.Context, commitID string) (Commit, error) {
	var c Commit
	err := p.pool.QueryRow(ctx,
		`SELECT commit_id, doc_id, parent_cid, update_bytes, author, message, ts, rev, sig
		 FROM commits WHERE commit_id = $1`, commitID).
		Scan(&c.CommitID, &c.DocID, &c.ParentCID, &c.UpdateBytes, &c.Author, &c.Message, &c.Ts, &c.Rev, &c.Sig)
	if err != nil {
		return Commit{}, fmt.Errorf("commitstore: get %s: %w", commitID, ErrNotFound)
	}
	return c, nil
}

func (p *PgStore) ListForDoc(ctx context.Context, docID string) ([]Commit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT commit_id, doc_id, parent_cid, update_bytes, author, message, ts, rev, sig
		 FROM commits WHERE doc_id = $1 ORDER BY seq ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("commitstore: list %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.CommitID, &c.DocID, &c.ParentCID, &c.UpdateBytes, &c.Author, &c.Message, &c.Ts, &c.Rev, &c.Sig); err != nil {
			return nil, fmt.Errorf("commitstore: scan %s: %w", docID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commitstore: iterate %s: %w", docID, err)
	}
	return out, nil
}

func (p *PgStore) Head(ctx context.Context, docID string) (Commit, error) {
	var c Commit
	err := p.pool.QueryRow(ctx,
		`SELECT commit_id, doc_id, parent_cid, update_bytes, author, message, ts, rev, sig
		 FROM commits WHERE doc_id = $1 ORDER BY seq DESC LIMIT 1`, docID).
		Scan(&c.CommitID, &c.DocID, &c.ParentCID, &c.UpdateBytes, &c.Author, &c.Message, &c.Ts, &c.Rev, &c.Sig)
	if err != nil {
		return Commit{}, fmt.Errorf("commitstore: head %s: %w", docID, ErrNotFound)
	}
	return c, nil
}
