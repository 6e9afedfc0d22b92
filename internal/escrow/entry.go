package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is the operation surface one execution domain exposes. Entries for
// Primary and Secondary share the engine, its store and its transition code.
type Entry struct {
	engine *Engine
	domain Domain
}

func (x *Entry) Domain() Domain { return x.domain }

// Initialize creates the escrow for (owner, orderID) with a zero balance and
// an inactive Buy order. Records are born on the primary domain.
func (x *Entry) Initialize(ctx context.Context, owner common.Hash, orderID uint64) (Record, error) {
	e := x.engine
	if e == nil || e.store == nil {
		return Record{}, errNilEngine
	}
	if x.domain != Primary {
		return Record{}, fmt.Errorf("initialize on %s domain: %w", x.domain, ErrWrongDomain)
	}
	rec := Record{
		Address: e.program.DeriveAddress(owner, orderID),
		Account: Account{Owner: owner, OrderID: orderID},
		Domain:  Primary,
	}
	err := e.store.Create(ctx, rec, func(ctx context.Context) error {
		_, err := e.journalEvents(ctx, newEvent(EventTypeInitialized, rec, e.now(), nil))
		return err
	})
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("initialized escrow", "owner", owner.Hex(), "order_id", orderID, "address", rec.Address.Hex())
	return rec, nil
}

// Delegate moves write authority over the escrow at (owner, orderID) to the
// secondary domain. Delegating an already delegated escrow is a no-op.
func (x *Entry) Delegate(ctx context.Context, caller, owner common.Hash, orderID uint64) (Record, error) {
	e := x.engine
	if e == nil || e.store == nil {
		return Record{}, errNilEngine
	}
	if x.domain != Primary {
		return Record{}, fmt.Errorf("delegate on %s domain: %w", x.domain, ErrWrongDomain)
	}
	addr := e.program.DeriveAddress(owner, orderID)
	var out Record
	err := e.store.Update(ctx, addr, func(ctx context.Context, rec *Record) error {
		if err := requireOwner(rec, caller); err != nil {
			return err
		}
		if rec.Domain != Secondary {
			rec.Domain = Secondary
			if _, err := e.journalEvents(ctx, newEvent(EventTypeDelegated, *rec, e.now(), nil)); err != nil {
				return err
			}
		}
		out = *rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("delegated escrow", "order_id", orderID, "address", addr.Hex())
	return out, nil
}

// DepositNative moves amount of native currency from the owner into the
// escrow and credits the balance. The overflow check precedes the transfer and
// the balance is credited only after the transfer succeeded.
func (x *Entry) DepositNative(ctx context.Context, caller, addr common.Hash, amount uint64) (Record, error) {
	e := x.engine
	var (
		moved bool
		owner common.Hash
	)
	rec, _, err := e.apply(ctx, x.domain, addr, "deposit_native", func(rec *Record) ([]Event, error) {
		if err := requireOwner(rec, caller); err != nil {
			return nil, err
		}
		next, err := checkedAdd(rec.Account.Balance, amount)
		if err != nil {
			return nil, err
		}
		owner = rec.Account.Owner
		if err := e.vault.TransferNative(ctx, owner, addr, amount); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		moved = true
		rec.Account.Balance = next
		return []Event{newEvent(EventTypeNativeDeposit, *rec, e.now(), map[string]string{
			"amount": formatUint(amount),
		})}, nil
	})
	if err != nil {
		if moved {
			e.compensate(ctx, "native", func() error {
				return e.vault.TransferNative(ctx, addr, owner, amount)
			})
		}
		return Record{}, err
	}
	e.logger.Info("deposited native", "address", addr.Hex(), "amount", amount, "balance", rec.Account.Balance)
	return rec, nil
}

// DepositAsset moves amount whole units of mint from the owner into the
// escrow's holding for that mint. Asset holdings form their own ledger inside
// the vault; Account.Balance is left untouched.
func (x *Entry) DepositAsset(ctx context.Context, caller, addr, mint common.Hash, amount uint64) (AssetReceipt, error) {
	e := x.engine
	var (
		moved   bool
		owner   common.Hash
		units   uint64
		holding = e.program.HoldingAddress(addr, mint)
	)
	rec, _, err := e.apply(ctx, x.domain, addr, "deposit_asset", func(rec *Record) ([]Event, error) {
		if err := requireOwner(rec, caller); err != nil {
			return nil, err
		}
		decimals, err := e.vault.Decimals(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("%w: mint %s: %w", ErrInvalidArgument, mint.Hex(), err)
		}
		if units, err = scaleAssetAmount(amount, decimals); err != nil {
			return nil, err
		}
		owner = rec.Account.Owner
		if err := e.vault.TransferAsset(ctx, mint, owner, holding, units); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		moved = true
		return []Event{newEvent(EventTypeAssetDeposit, *rec, e.now(), map[string]string{
			"mint":    mint.Hex(),
			"holding": holding.Hex(),
			"amount":  formatUint(amount),
			"units":   formatUint(units),
		})}, nil
	})
	if err != nil {
		if moved {
			e.compensate(ctx, "asset", func() error {
				return e.vault.TransferAsset(ctx, mint, holding, owner, units)
			})
		}
		return AssetReceipt{}, err
	}
	e.logger.Info("deposited asset", "address", addr.Hex(), "mint", mint.Hex(), "units", units)
	return AssetReceipt{Escrow: rec, Mint: mint, Holding: holding, Units: units}, nil
}

// CreateLimitOrder activates the escrow's order, overwriting whatever order
// was there. Buy orders need the balance to cover the limit price.
func (x *Entry) CreateLimitOrder(ctx context.Context, caller, addr common.Hash, req OrderRequest) (Record, error) {
	e := x.engine
	if !req.OrderType.Valid() {
		return Record{}, fmt.Errorf("%w: order type %d", ErrInvalidArgument, req.OrderType)
	}
	rec, _, err := e.apply(ctx, x.domain, addr, "create_limit_order", func(rec *Record) ([]Event, error) {
		if err := requireOwner(rec, caller); err != nil {
			return nil, err
		}
		if req.OrderType == Buy && rec.Account.Balance < req.LimitPrice {
			return nil, fmt.Errorf("balance %d below limit price %d: %w", rec.Account.Balance, req.LimitPrice, ErrInsufficientFunds)
		}
		rec.Account.LimitOrder = LimitOrder{
			IsActive:   true,
			OrderType:  req.OrderType,
			Asset:      req.Asset,
			LimitPrice: req.LimitPrice,
		}
		return []Event{newEvent(EventTypeOrderCreated, *rec, e.now(), orderAttributes(rec.Account.LimitOrder))}, nil
	})
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("created limit order", "address", addr.Hex(), "order_type", req.OrderType.String(), "asset", req.Asset.Hex(), "limit_price", req.LimitPrice)
	return rec, nil
}

// CancelLimitOrder deactivates the order and keeps its other fields.
func (x *Entry) CancelLimitOrder(ctx context.Context, caller, addr common.Hash) (Record, error) {
	e := x.engine
	rec, _, err := e.apply(ctx, x.domain, addr, "cancel_limit_order", func(rec *Record) ([]Event, error) {
		if err := requireOwner(rec, caller); err != nil {
			return nil, err
		}
		rec.Account.LimitOrder.IsActive = false
		return []Event{newEvent(EventTypeOrderCancelled, *rec, e.now(), nil)}, nil
	})
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("cancelled limit order", "address", addr.Hex())
	return rec, nil
}

// ExecuteLimitOrder records an execution of the active order on behalf of
// crank. No funds move and the order stays active, so a crank may fire it
// again. The execution event is the whole effect, journaled under the record
// lock; if it cannot be journaled the call fails.
func (x *Entry) ExecuteLimitOrder(ctx context.Context, crank, addr common.Hash) (Event, error) {
	e := x.engine
	_, events, err := e.apply(ctx, x.domain, addr, "execute_limit_order", func(rec *Record) ([]Event, error) {
		if !e.crankAllowed(crank) {
			return nil, fmt.Errorf("crank %s not allowed: %w", crank.Hex(), ErrUnauthorized)
		}
		if !rec.Account.LimitOrder.IsActive {
			return nil, fmt.Errorf("execute %s: %w", rec.Address.Hex(), ErrOrderNotActive)
		}
		attrs := orderAttributes(rec.Account.LimitOrder)
		attrs["crank"] = crank.Hex()
		return []Event{newEvent(EventTypeOrderExecuted, *rec, e.now(), attrs)}, nil
	})
	if err != nil {
		return Event{}, err
	}
	evt := events[0]
	e.logger.Info("executed limit order", "address", addr.Hex(), "crank", crank.Hex(), "sequence", evt.Sequence)
	return evt, nil
}

func (e *Engine) compensate(ctx context.Context, what string, undo func() error) {
	if err := undo(); err != nil {
		e.logger.Error("compensating transfer failed", "kind", what, "error", err)
		return
	}
	e.logger.Warn("reverted transfer after failed commit", "kind", what)
}
