package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"limitvault/internal/escrow"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a ledger error kind onto an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "AlreadyExists", "OrderNotActive":
		return http.StatusConflict
	case "NotFound":
		return http.StatusNotFound
	case "Unauthorized":
		return http.StatusForbidden
	case "WrongDomain":
		return http.StatusMisdirectedRequest
	case "InsufficientFunds", "Overflow":
		return http.StatusUnprocessableEntity
	case "TransferFailed":
		return http.StatusBadGateway
	case "InvalidArgument":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", escrow.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// parseAmount reads a base-10 unsigned 64-bit value. Amounts travel as strings
// so no JSON client rounds them through a float.
func parseAmount(field, s string) (uint64, error) {
	if s == "" {
		return 0, invalidArgument("%s is required", field)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalidArgument("%s: %q is not an unsigned 64-bit integer", field, s)
	}
	return v, nil
}

func parseHash(field, s string) (common.Hash, error) {
	h, err := escrow.ParseHash(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", field, err)
	}
	return h, nil
}
