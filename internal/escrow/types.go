package escrow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Domain names the execution domain that currently holds write authority over
// an escrow record.
type Domain uint8

const (
	Primary Domain = iota
	Secondary
)

func (d Domain) String() string {
	switch d {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return fmt.Sprintf("domain(%d)", uint8(d))
	}
}

// Valid reports whether the domain is one of the known values.
func (d Domain) Valid() bool {
	return d == Primary || d == Secondary
}

// ParseDomain maps the canonical lowercase name back to a Domain.
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return Primary, nil
	case "secondary":
		return Secondary, nil
	default:
		return 0, fmt.Errorf("%w: unknown domain %q", ErrInvalidArgument, s)
	}
}

// OrderType is the side of a limit order. The zero value is Buy.
type OrderType uint8

const (
	Buy OrderType = iota
	Sell
)

func (t OrderType) String() string {
	switch t {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("order_type(%d)", uint8(t))
	}
}

func (t OrderType) Valid() bool {
	return t == Buy || t == Sell
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: unknown order type %q", ErrInvalidArgument, s)
	}
}

// LimitOrder is the single order embedded in an escrow account. For Buy orders
// LimitPrice is the amount of native currency reserved from the balance.
type LimitOrder struct {
	IsActive   bool
	OrderType  OrderType
	Asset      common.Hash
	LimitPrice uint64
}

// Account is the persisted escrow state. Owner and OrderID never change after
// Initialize; Balance only grows.
type Account struct {
	Owner      common.Hash
	Balance    uint64
	OrderID    uint64
	LimitOrder LimitOrder
}

// Record couples an account with its derived address and the domain that is
// currently allowed to mutate it.
type Record struct {
	Address common.Hash
	Account Account
	Domain  Domain
}

// OrderRequest carries the caller supplied fields of CreateLimitOrder.
type OrderRequest struct {
	OrderType  OrderType
	Asset      common.Hash
	LimitPrice uint64
}

// AssetReceipt describes a completed asset deposit. Units is the amount after
// scaling by the mint's decimals.
type AssetReceipt struct {
	Escrow  Record
	Mint    common.Hash
	Holding common.Hash
	Units   uint64
}
