// Package pagination fetches every page of a Langfuse list endpoint and fans
// observation queries out across traces.
//
// Langfuse pages are numbered from 1 and a query is exhausted when a page comes
// back with an empty data array. Pages of one query are fetched strictly in
// order; parallelism only happens across independent queries.
//
// Example usage:
//
//	paginator := pagination.NewPaginator(langfuseClient)
//	traces, err := paginator.FetchAllPages(ctx, pagination.EntityTraces, win, nil)
//
//	gatherer := pagination.NewGatherer(paginator, pagination.DefaultConfig())
//	observations, err := gatherer.FetchObservations(ctx, traceIDs, win)
//
// The paginator:
//   - Sends the entity's time filter pair and limit=100 on every page
//   - Stops at the first empty page, which is not part of the result
//   - Aborts the whole query on the first page error (no partial results)
//
// The gatherer:
//   - Runs one paginator query per trace id on a pool of 8 workers
//   - Merges results in completion order
//   - Fails the whole batch on the first failing trace and cancels the rest
package pagination
