package bybit

import (
	"context"
	"net/http"

	"github.com/tidemark/bybitconn/internal/rest"
)

const (
	pathPositionList = "/v5/position/list"
	positionsLimit   = 200
)

// PositionClient exposes authenticated position endpoints.
type PositionClient struct {
	c *Client
}

// GetOpenPositions returns all open positions, following the cursor to
// exhaustion. Spot has no positions and yields an empty result without a
// network call. A non-empty symbol narrows the query.
func (p *PositionClient) GetOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	if p.c.category == CategorySpot {
		return nil, nil
	}
	query := p.c.query()
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	return rest.FetchAll[Position](ctx, p.c.transport, rest.Request{
		Method:       http.MethodGet,
		Path:         pathPositionList,
		Query:        query,
		Authenticate: true,
	}, positionsLimit)
}
