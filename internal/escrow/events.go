package escrow

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	EventTypeInitialized    = "escrow.initialized"
	EventTypeDelegated      = "escrow.delegated"
	EventTypeUndelegated    = "escrow.undelegated"
	EventTypeNativeDeposit  = "escrow.deposit.native"
	EventTypeAssetDeposit   = "escrow.deposit.asset"
	EventTypeOrderCreated   = "escrow.order.created"
	EventTypeOrderCancelled = "escrow.order.cancelled"
	EventTypeOrderExecuted  = "escrow.order.executed"
)

// Event is one journal entry. Sequence is assigned by the journal on append:
// each record's events are numbered 1, 2, 3... in commit order.
type Event struct {
	ID         uuid.UUID
	Sequence   uint64
	Type       string
	Address    common.Hash
	Domain     Domain
	Attributes map[string]string
	At         time.Time
}

func newEvent(eventType string, rec Record, at time.Time, extra map[string]string) Event {
	attrs := map[string]string{
		"owner":   rec.Account.Owner.Hex(),
		"orderId": strconv.FormatUint(rec.Account.OrderID, 10),
		"balance": strconv.FormatUint(rec.Account.Balance, 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Address:    rec.Address,
		Domain:     rec.Domain,
		Attributes: attrs,
		At:         at.UTC(),
	}
}

func orderAttributes(o LimitOrder) map[string]string {
	return map[string]string{
		"orderType":  o.OrderType.String(),
		"asset":      o.Asset.Hex(),
		"limitPrice": strconv.FormatUint(o.LimitPrice, 10),
		"active":     strconv.FormatBool(o.IsActive),
	}
}
