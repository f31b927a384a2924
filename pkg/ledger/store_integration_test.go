//go:build integration

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestStore_Integration_Expiry(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	store := NewStore(client, time.Second)
	ctx := context.Background()

	rec := &RunRecord{RunID: "r", Project: "ai_tools", Entity: "observations", Status: StatusSucceeded}
	if err := store.Record(ctx, rec); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if _, err := store.Get(ctx, rec.Key()); err != nil {
		t.Fatalf("Get() before expiry failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := store.Get(ctx, rec.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestStore_Integration_ReplaceSameWindow(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	store := NewStore(client, time.Hour)
	ctx := context.Background()

	first := &RunRecord{RunID: "first", Project: "p", Entity: "traces", From: "a", To: "b", Status: StatusFailed}
	second := &RunRecord{RunID: "second", Project: "p", Entity: "traces", From: "a", To: "b", Status: StatusSucceeded}

	if err := store.Record(ctx, first); err != nil {
		t.Fatalf("Record(first) failed: %v", err)
	}
	if err := store.Record(ctx, second); err != nil {
		t.Fatalf("Record(second) failed: %v", err)
	}

	got, err := store.Get(ctx, first.Key())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.RunID != "second" {
		t.Errorf("RunID = %q, want second", got.RunID)
	}
}
