package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS escrow_accounts (
    address BYTEA PRIMARY KEY,
    payload BYTEA NOT NULL CHECK (octet_length(payload) = 98),
    domain SMALLINT NOT NULL,
    active BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS escrow_accounts_active_idx ON escrow_accounts (updated_at) WHERE active`,
	`CREATE TABLE IF NOT EXISTS escrow_events (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    address BYTEA NOT NULL,
    record_seq BIGINT NOT NULL,
    domain SMALLINT NOT NULL,
    attributes JSONB NOT NULL,
    at TIMESTAMPTZ NOT NULL,
    UNIQUE (address, record_seq)
)`,
}

type txKey struct{}

// queryer is the part of pgx shared by the pool and a transaction.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func connFrom(ctx context.Context, pool *pgxpool.Pool) queryer {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// PostgresStore persists records and the event journal in PostgreSQL. Update
// holds a row lock for the whole read-modify-write, so several ledger
// processes may share one database. The callbacks receive a ctx carrying the
// open transaction; PostgresJournal appends through it when present.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres using the DSN and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Create(ctx context.Context, rec Record, onCreate func(context.Context) error) error {
	payload, err := rec.Account.MarshalBinary()
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
INSERT INTO escrow_accounts (address, payload, domain, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (address) DO NOTHING
`, rec.Address.Bytes(), payload, int16(rec.Domain), rec.Account.LimitOrder.IsActive, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create %s: %w", rec.Address.Hex(), ErrAlreadyExists)
	}
	if onCreate != nil {
		if err := onCreate(withTx(ctx, tx)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, addr common.Hash) (Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT payload, domain FROM escrow_accounts WHERE address = $1`, addr.Bytes())
	return scanRecord(addr, row)
}

func (p *PostgresStore) Update(ctx context.Context, addr common.Hash, fn func(context.Context, *Record) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT payload, domain FROM escrow_accounts WHERE address = $1 FOR UPDATE`, addr.Bytes())
	current, err := scanRecord(addr, row)
	if err != nil {
		return err
	}
	next, changed, err := applyUpdate(withTx(ctx, tx), current, fn)
	if err != nil {
		return err
	}
	if !changed {
		// fn may still have journaled through tx.
		return tx.Commit(ctx)
	}
	payload, err := next.Account.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
UPDATE escrow_accounts
SET payload = $2, domain = $3, active = $4, updated_at = $5
WHERE address = $1
`, addr.Bytes(), payload, int16(next.Domain), next.Account.LimitOrder.IsActive, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) ListActive(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, `
SELECT address, payload, domain
FROM escrow_accounts
WHERE active
ORDER BY updated_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rawAddr []byte
			payload []byte
			domain  int16
		)
		if err := rows.Scan(&rawAddr, &payload, &domain); err != nil {
			return nil, err
		}
		rec, err := decodeRow(common.BytesToHash(rawAddr), payload, domain)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(addr common.Hash, row pgx.Row) (Record, error) {
	var (
		payload []byte
		domain  int16
	)
	if err := row.Scan(&payload, &domain); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("get %s: %w", addr.Hex(), ErrNotFound)
		}
		return Record{}, err
	}
	return decodeRow(addr, payload, domain)
}

func decodeRow(addr common.Hash, payload []byte, domain int16) (Record, error) {
	var acc Account
	if err := acc.UnmarshalBinary(payload); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", addr.Hex(), err)
	}
	d := Domain(domain)
	if !d.Valid() {
		return Record{}, fmt.Errorf("record %s: corrupt domain %d", addr.Hex(), domain)
	}
	return Record{Address: addr, Account: acc, Domain: d}, nil
}

// PostgresJournal stores events in the escrow_events table created by
// NewPostgresStore. Appends made inside a store callback join the store's
// transaction, and the row lock held there serializes record_seq per address.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// Journal returns a journal sharing the store's connection pool.
func (p *PostgresStore) Journal() *PostgresJournal {
	return &PostgresJournal{pool: p.pool}
}

func (j *PostgresJournal) Append(ctx context.Context, evt Event) (Event, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return Event{}, err
	}
	row := connFrom(ctx, j.pool).QueryRow(ctx, `
INSERT INTO escrow_events (id, type, address, record_seq, domain, attributes, at)
SELECT $1, $2, $3, COALESCE(MAX(record_seq), 0) + 1, $4, $5::jsonb, $6
FROM escrow_events
WHERE address = $3
RETURNING record_seq
`, evt.ID.String(), evt.Type, evt.Address.Bytes(), int16(evt.Domain), string(attrs), evt.At)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return Event{}, err
	}
	evt.Sequence = uint64(seq)
	return evt, nil
}

func (j *PostgresJournal) List(ctx context.Context, addr common.Hash) ([]Event, error) {
	rows, err := connFrom(ctx, j.pool).Query(ctx, `
SELECT record_seq, id, type, domain, attributes, at
FROM escrow_events
WHERE address = $1
ORDER BY record_seq
`, addr.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			seq    int64
			id     string
			typ    string
			domain int16
			attrs  []byte
			at     time.Time
		)
		if err := rows.Scan(&seq, &id, &typ, &domain, &attrs, &at); err != nil {
			return nil, err
		}
		evt := Event{
			Sequence: uint64(seq),
			Type:     typ,
			Address:  addr,
			Domain:   Domain(domain),
			At:       at.UTC(),
		}
		if evt.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("event %d id: %w", seq, err)
		}
		if err := json.Unmarshal(attrs, &evt.Attributes); err != nil {
			return nil, fmt.Errorf("event %d attributes: %w", seq, err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
