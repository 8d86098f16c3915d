package rest

import (
	"context"
	"strconv"
	"strings"
)

// pageEnvelope is the pagination wrapper list endpoints share.
type pageEnvelope[T any] struct {
	List           []T    `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// FetchAll follows the cursor of a list endpoint until exhaustion and
// returns every item in page order. Filter parameters are sorted by key so
// the query string is reproducible between signing and transmission.
//
// Termination conditions, checked in order: the page is empty; the returned
// cursor is empty; the returned cursor equals the cursor just sent. The last
// guard exists because a misbehaving endpoint can echo the same cursor
// forever.
func FetchAll[T any](ctx context.Context, transport *Transport, req Request, limit int) ([]T, error) {
	var out []T
	cursor := ""
	for {
		query := req.Query.Clone()
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		query.SortByKey()

		var page pageEnvelope[T]
		pageReq := Request{
			Method:       req.Method,
			Path:         req.Path,
			Query:        query,
			Authenticate: req.Authenticate,
		}
		if err := transport.Do(ctx, pageReq, &page); err != nil {
			return nil, err
		}

		if len(page.List) == 0 {
			return out, nil
		}
		out = append(out, page.List...)

		next := strings.TrimSpace(page.NextPageCursor)
		if next == "" || next == cursor {
			return out, nil
		}
		cursor = next
	}
}
