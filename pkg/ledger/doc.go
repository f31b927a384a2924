// Package ledger records pipeline runs in Redis.
//
// Each run of one entity over one window produces a RunRecord stored under a
// deterministic key, so operators can ask whether a given day was loaded and
// how it went without querying the warehouse.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := ledger.NewStore(redisClient, ledger.DefaultTTL)
//
//	key := ledger.RunKey{
//		Project: "ai_tools",
//		Entity:  "traces",
//		From:    "2024-03-13T00:00:00Z",
//		To:      "2024-03-15T00:00:00Z",
//	}
//
//	rec, err := store.Get(ctx, key)
//	if errors.Is(err, ledger.ErrNotFound) {
//		// never run for this window
//	}
//
// Records expire after the store's TTL (30 days by default). Without Redis,
// Nop discards records and reports every key as not found.
package ledger
