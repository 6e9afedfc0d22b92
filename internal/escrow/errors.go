package escrow

import "errors"

var (
	ErrAlreadyExists     = errors.New("escrow already exists")
	ErrNotFound          = errors.New("escrow not found")
	ErrUnauthorized      = errors.New("caller is not authorized")
	ErrWrongDomain       = errors.New("escrow is owned by another domain")
	ErrInsufficientFunds = errors.New("insufficient escrow balance")
	ErrOrderNotActive    = errors.New("order is not active")
	ErrOverflow          = errors.New("amount overflows 64 bits")
	ErrTransferFailed    = errors.New("value transfer failed")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrNotFound, "NotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrWrongDomain, "WrongDomain"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrOrderNotActive, "OrderNotActive"},
	{ErrOverflow, "Overflow"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrInvalidArgument, "InvalidArgument"},
}

// Kind returns the stable name of the ledger error wrapped by err, "" for nil
// and "Internal" for anything outside the catalog.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
