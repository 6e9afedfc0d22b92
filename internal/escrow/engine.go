package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var errNilEngine = errors.New("escrow engine: not configured")

// Engine owns the escrow state transitions. Both execution domains reach the
// same transition code through Entry; the domain tag stored with each record
// decides which of them may write.
type Engine struct {
	program Program
	store   Store
	vault   Vault
	journal Journal
	cranks  map[common.Hash]struct{}
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewEngine wires the engine with its store and vault. Events go to an
// in-memory journal until SetJournal is called.
func NewEngine(program Program, store Store, vault Vault) *Engine {
	return &Engine{
		program: program,
		store:   store,
		vault:   vault,
		journal: NewMemoryJournal(),
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
}

func (e *Engine) SetJournal(j Journal) {
	if j == nil {
		j = NewMemoryJournal()
	}
	e.journal = j
}

func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	e.logger = l
}

// SetNowFunc overrides the clock used for event timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// SetCrankAllowlist restricts ExecuteLimitOrder to the listed signers. An empty
// list lets any signer act as crank.
func (e *Engine) SetCrankAllowlist(cranks []common.Hash) {
	if len(cranks) == 0 {
		e.cranks = nil
		return
	}
	e.cranks = make(map[common.Hash]struct{}, len(cranks))
	for _, c := range cranks {
		e.cranks[c] = struct{}{}
	}
}

func (e *Engine) Program() Program { return e.program }

// Entry returns the operation surface of one execution domain.
func (e *Engine) Entry(d Domain) *Entry {
	return &Entry{engine: e, domain: d}
}

func (e *Engine) Get(ctx context.Context, addr common.Hash) (Record, error) {
	if e == nil || e.store == nil {
		return Record{}, errNilEngine
	}
	return e.store.Get(ctx, addr)
}

func (e *Engine) Events(ctx context.Context, addr common.Hash) ([]Event, error) {
	if _, err := e.Get(ctx, addr); err != nil {
		return nil, err
	}
	return e.journal.List(ctx, addr)
}

// ActiveOrders lists records whose order is active, for cranks to poll.
func (e *Engine) ActiveOrders(ctx context.Context, limit int) ([]Record, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	return e.store.ListActive(ctx, limit)
}

// AssetHolding returns the escrow-owned holding for mint and its balance in
// base units. Asset holdings are tracked by the vault, not by Account.Balance.
func (e *Engine) AssetHolding(ctx context.Context, addr, mint common.Hash) (common.Hash, uint64, error) {
	if _, err := e.Get(ctx, addr); err != nil {
		return common.Hash{}, 0, err
	}
	holding := e.program.HoldingAddress(addr, mint)
	units, err := e.vault.AssetBalance(ctx, mint, holding)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("%w: mint %s: %w", ErrInvalidArgument, mint.Hex(), err)
	}
	return holding, units, nil
}

// Undelegate hands write authority back to the primary domain. It is an
// operator capability and is not reachable from owner-facing entry points.
func (e *Engine) Undelegate(ctx context.Context, addr common.Hash) (Record, error) {
	if e == nil || e.store == nil {
		return Record{}, errNilEngine
	}
	var out Record
	err := e.store.Update(ctx, addr, func(ctx context.Context, rec *Record) error {
		if rec.Domain != Primary {
			rec.Domain = Primary
			if _, err := e.journalEvents(ctx, newEvent(EventTypeUndelegated, *rec, e.now(), nil)); err != nil {
				return err
			}
		}
		out = *rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("undelegated escrow", "address", addr.Hex())
	return out, nil
}

// apply runs one mutating transition for domain. The domain check comes
// before anything else so a non-authoritative domain never observes a write.
// Events returned by fn are journaled while the record is still locked, so
// the journal order of a record matches the order its changes commit in.
func (e *Engine) apply(ctx context.Context, domain Domain, addr common.Hash, op string, fn func(*Record) ([]Event, error)) (Record, []Event, error) {
	if e == nil || e.store == nil || e.vault == nil {
		return Record{}, nil, errNilEngine
	}
	var (
		out      Record
		recorded []Event
	)
	err := e.store.Update(ctx, addr, func(ctx context.Context, rec *Record) error {
		if rec.Domain != domain {
			return fmt.Errorf("%s on %s domain, escrow held by %s: %w", op, domain, rec.Domain, ErrWrongDomain)
		}
		evs, err := fn(rec)
		if err != nil {
			return err
		}
		if recorded, err = e.journalEvents(ctx, evs...); err != nil {
			return err
		}
		out = *rec
		return nil
	})
	if err != nil {
		e.logger.Debug("escrow operation rejected", "op", op, "domain", domain.String(), "address", addr.Hex(), "kind", Kind(err), "error", err)
		return Record{}, nil, err
	}
	return out, recorded, nil
}

// journalEvents appends events from inside a store callback. A failed append
// fails the callback, which discards the state change with it.
func (e *Engine) journalEvents(ctx context.Context, events ...Event) ([]Event, error) {
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		appended, err := e.journal.Append(ctx, evt)
		if err != nil {
			return nil, fmt.Errorf("journal %s: %w", evt.Type, err)
		}
		out = append(out, appended)
	}
	return out, nil
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

func (e *Engine) crankAllowed(crank common.Hash) bool {
	if len(e.cranks) == 0 {
		return true
	}
	_, ok := e.cranks[crank]
	return ok
}

func requireOwner(rec *Record, caller common.Hash) error {
	if rec.Account.Owner != caller {
		return fmt.Errorf("caller %s does not own %s: %w", caller.Hex(), rec.Address.Hex(), ErrUnauthorized)
	}
	return nil
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }
