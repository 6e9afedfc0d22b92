package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists escrow records. Implementations must run Update as an atomic
// read-modify-write that excludes every other Create or Update on the same
// address, and must persist nothing when fn returns an error. Create runs
// onCreate, when set, under the same exclusion before the record is stored.
// The ctx handed to the callbacks carries any transaction the store opened,
// so a journal sharing that transaction commits or rolls back with the record.
type Store interface {
	Create(ctx context.Context, rec Record, onCreate func(ctx context.Context) error) error
	Get(ctx context.Context, addr common.Hash) (Record, error)
	Update(ctx context.Context, addr common.Hash, fn func(ctx context.Context, rec *Record) error) error
	ListActive(ctx context.Context, limit int) ([]Record, error)
}

// Journal is the append-only log of ledger events. Append assigns the event
// the next sequence number of its record, starting at 1.
type Journal interface {
	Append(ctx context.Context, evt Event) (Event, error)
	List(ctx context.Context, addr common.Hash) ([]Event, error)
}

// Vault is the value-transfer capability the ledger relies on. Transfers are
// atomic: on error nothing moved.
type Vault interface {
	TransferNative(ctx context.Context, from, to common.Hash, amount uint64) error
	TransferAsset(ctx context.Context, mint, from, to common.Hash, units uint64) error
	Decimals(ctx context.Context, mint common.Hash) (uint8, error)
	AssetBalance(ctx context.Context, mint, holder common.Hash) (uint64, error)
}
