// Package viewcache keeps remote entities in sync across several views that
// observe them at once: a detail record, paged lists and infinite lists.
// Writes are applied optimistically to every view holding the entity, rolled
// back exactly on failure, and reconciled with the server after success.
//
// Components:
//   - Store: one Entry per Key with version, status, staleness and fetch epoch.
//     Idle unobserved entries are evicted and, with a Provider, parked in a cold tier.
//   - Registrar: resolves keys, classifies views, owns every fetch. A fetch result
//     is accepted only if its epoch is still current.
//   - Pagination: offset, cursor and raw JSON page shapes normalized into Pages;
//     infinite lists append pages in request order and de-duplicate by id.
//   - Coordinator: per-entity FIFO mutations with snapshot/restore rollback.
//   - Scheduler: invalidates and refetches the affected closure after a commit.
//
// Keys:
//
//	<namespace>#<canonical params JSON>   e.g. events/list#{"page":1,"status":"open"}
//	park:<namespace>:<hash>               parked frames in the Provider
//
// Mutation pattern:
//
//	rec, err := client.Toggle(ctx, "events", viewcache.Toggle{
//	    EntityID: "e1", Actor: "u1", Field: "likes", CountField: "likeCount",
//	}, func(ctx context.Context) (viewcache.Response, error) {
//	    return api.Like(ctx, "e1") // *MutationError and a full rollback on failure
//	})
package viewcache
