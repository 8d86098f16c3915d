package bybit

import (
	"github.com/tidemark/bybitconn/errs"
)

// Category identifies the exchange market segment. It selects URL path
// values, account-type strings, and which order fields are eligible, and is
// fixed when a client is constructed.
type Category string

const (
	// CategorySpot is the spot market.
	CategorySpot Category = "spot"
	// CategoryLinear covers USDT/USDC-settled perpetuals and futures.
	CategoryLinear Category = "linear"
	// CategoryInverse covers coin-settled perpetuals and futures.
	CategoryInverse Category = "inverse"
	// CategoryOption covers options.
	CategoryOption Category = "option"
)

// Validate reports whether the category is one the exchange accepts.
func (c Category) Validate() error {
	switch c {
	case CategorySpot, CategoryLinear, CategoryInverse, CategoryOption:
		return nil
	}
	return errs.New(venue, errs.CodeInvalid,
		errs.WithMessage("unknown product category"),
		errs.WithField("category", string(c)))
}

// AccountType returns the wallet account-type string for the category.
func (c Category) AccountType() string {
	if c == CategoryInverse {
		return "CONTRACT"
	}
	return "UNIFIED"
}

// IsDerivative reports whether orders in this category can carry
// position-relative flags such as reduce-only.
func (c Category) IsDerivative() bool {
	return c == CategoryLinear || c == CategoryInverse || c == CategoryOption
}

// String implements fmt.Stringer.
func (c Category) String() string { return string(c) }
