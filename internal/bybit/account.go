package bybit

import (
	"context"
	"net/http"

	"github.com/tidemark/bybitconn/internal/rest"
)

const (
	pathWalletBalance = "/v5/account/wallet-balance"
	pathFeeRate       = "/v5/account/fee-rate"
)

// AccountClient exposes authenticated account endpoints.
type AccountClient struct {
	c *Client
}

// GetWalletBalance returns the per-coin balances of the wallet account
// matching the client's category.
func (a *AccountClient) GetWalletBalance(ctx context.Context) ([]CoinBalance, error) {
	var result walletResult
	err := a.c.transport.Do(ctx, rest.Request{
		Method:       http.MethodGet,
		Path:         pathWalletBalance,
		Query:        rest.NewParams().Set("accountType", a.c.category.AccountType()),
		Authenticate: true,
	}, &result)
	if err != nil {
		return nil, err
	}
	var balances []CoinBalance
	for _, account := range result.List {
		balances = append(balances, account.Coin...)
	}
	return balances, nil
}

type feeRateResult struct {
	List []FeeRate `json:"list"`
}

// GetFeeRates returns maker/taker fee rates; symbol narrows the result when
// non-empty.
func (a *AccountClient) GetFeeRates(ctx context.Context, symbol string) ([]FeeRate, error) {
	query := a.c.query()
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	var result feeRateResult
	err := a.c.transport.Do(ctx, rest.Request{
		Method:       http.MethodGet,
		Path:         pathFeeRate,
		Query:        query,
		Authenticate: true,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.List, nil
}
