// Package pagination walks OpenAlex cursor pagination.
//
// OpenAlex list endpoints return a meta.next_cursor with every page; the
// first request uses cursor "*" and the walk ends when no cursor comes back.
// Cursors are only valid in sequence, so the pages of one query are always
// fetched one after another. Parallelism belongs one level up, across
// independent queries.
//
// Example usage:
//
//	p := pagination.NewPaginator(openalexClient)
//	res, err := p.FetchAll(ctx, pagination.Query{Filter: f}, pagination.Options{
//		PageSize: 200,
//		MaxItems: 500,
//	})
//
// The paginator:
//   - Starts at cursor "*" and follows meta.next_cursor
//   - Stops at MaxItems collected works or MaxPages pages
//   - Trims the result to MaxItems
//   - Returns the works gathered so far together with the error on failure
package pagination
