package escrow

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// LimitOrderSize is is_active(1) + order_type(1) + asset(32) + limit_price(8).
	LimitOrderSize = 1 + 1 + common.HashLength + 8
	// AccountSize is owner(32) + balance(8) + order_id(8) + limit order.
	AccountSize = common.HashLength + 8 + 8 + LimitOrderSize
	// DiscriminatorSize is the type tag prefixed to every stored account.
	DiscriminatorSize = 8
	// EncodedSize is the exact number of bytes reserved per record.
	EncodedSize = DiscriminatorSize + AccountSize
)

var accountDiscriminator = func() [DiscriminatorSize]byte {
	var d [DiscriminatorSize]byte
	copy(d[:], crypto.Keccak256([]byte("account:EscrowAccount")))
	return d
}()

// MarshalBinary encodes the account in its fixed-width little-endian layout.
func (a Account) MarshalBinary() ([]byte, error) {
	if !a.LimitOrder.OrderType.Valid() {
		return nil, fmt.Errorf("%w: order type %d", ErrInvalidArgument, a.LimitOrder.OrderType)
	}
	buf := make([]byte, EncodedSize)
	copy(buf, accountDiscriminator[:])
	off := DiscriminatorSize
	off += copy(buf[off:], a.Owner[:])
	binary.LittleEndian.PutUint64(buf[off:], a.Balance)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], a.OrderID)
	off += 8
	if a.LimitOrder.IsActive {
		buf[off] = 1
	}
	off++
	buf[off] = byte(a.LimitOrder.OrderType)
	off++
	off += copy(buf[off:], a.LimitOrder.Asset[:])
	binary.LittleEndian.PutUint64(buf[off:], a.LimitOrder.LimitPrice)
	return buf, nil
}

// UnmarshalBinary decodes an account written by MarshalBinary. Any other
// length or a foreign discriminator is rejected.
func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSize {
		return fmt.Errorf("decode account: want %d bytes, got %d", EncodedSize, len(data))
	}
	if [DiscriminatorSize]byte(data[:DiscriminatorSize]) != accountDiscriminator {
		return fmt.Errorf("decode account: discriminator mismatch")
	}
	off := DiscriminatorSize
	var out Account
	copy(out.Owner[:], data[off:off+common.HashLength])
	off += common.HashLength
	out.Balance = binary.LittleEndian.Uint64(data[off:])
	off += 8
	out.OrderID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	switch data[off] {
	case 0:
	case 1:
		out.LimitOrder.IsActive = true
	default:
		return fmt.Errorf("decode account: invalid is_active byte %d", data[off])
	}
	off++
	out.LimitOrder.OrderType = OrderType(data[off])
	if !out.LimitOrder.OrderType.Valid() {
		return fmt.Errorf("decode account: invalid order type %d", data[off])
	}
	off++
	copy(out.LimitOrder.Asset[:], data[off:off+common.HashLength])
	off += common.HashLength
	out.LimitOrder.LimitPrice = binary.LittleEndian.Uint64(data[off:])
	*a = out
	return nil
}
