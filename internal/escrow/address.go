package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	escrowSeed  = []byte("escrow")
	holdingSeed = []byte("holding")
)

// Program is the immutable identity of one ledger deployment. It is built once
// at startup; every party that knows the ID can derive addresses locally.
type Program struct {
	ID common.Hash
}

// NewProgram parses a 0x-prefixed 32-byte hex program id.
func NewProgram(id string) (Program, error) {
	h, err := ParseHash(id)
	if err != nil {
		return Program{}, fmt.Errorf("program id: %w", err)
	}
	if h == (common.Hash{}) {
		return Program{}, fmt.Errorf("program id: %w: zero id", ErrInvalidArgument)
	}
	return Program{ID: h}, nil
}

// DeriveAddress returns the storage address of the escrow owned by owner for
// orderID. Every input has a fixed width, so distinct pairs never share a
// preimage.
func (p Program) DeriveAddress(owner common.Hash, orderID uint64) common.Hash {
	return crypto.Keccak256Hash(escrowSeed, p.ID[:], owner[:], orderIDBytes(orderID))
}

// HoldingAddress returns the escrow-owned asset holding for mint.
func (p Program) HoldingAddress(escrow, mint common.Hash) common.Hash {
	return crypto.Keccak256Hash(holdingSeed, p.ID[:], escrow[:], mint[:])
}

func orderIDBytes(orderID uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], orderID)
	return b[:]
}

// ParseHash strictly parses a 32-byte value written as 64 hex digits with an
// optional 0x prefix. Unlike common.HexToHash it refuses short or long input.
func ParseHash(s string) (common.Hash, error) {
	raw := strings.TrimSpace(s)
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	if len(raw) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidArgument, 2*common.HashLength, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return common.BytesToHash(b), nil
}
