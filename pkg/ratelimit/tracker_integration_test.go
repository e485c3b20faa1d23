//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
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

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_EmptyState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{}, logger)

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Active(time.Now()) {
		t.Error("empty Redis should yield no active cooldown")
	}
}

func TestTracker_Integration_StreakAndReset(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	replicaA := NewTracker(redisClient, TrackerConfig{BaseCooldown: 100 * time.Millisecond}, logger)
	replicaB := NewTracker(redisClient, TrackerConfig{BaseCooldown: 100 * time.Millisecond}, logger)
	ctx := context.Background()

	if _, err := replicaA.Record429(ctx, 0); err != nil {
		t.Fatalf("Record429() error = %v", err)
	}
	state, err := replicaB.Record429(ctx, 0)
	if err != nil {
		t.Fatalf("Record429() error = %v", err)
	}
	if state.Consecutive429s != 2 {
		t.Errorf("Consecutive429s = %d, want 2 (streak shared through Redis)", state.Consecutive429s)
	}

	if err := replicaA.RecordSuccess(ctx); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	n, err := redisClient.Exists(ctx, "openalex:"+RedisKeyConsecutive429s).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("consecutive counter should be deleted after success")
	}
}

func TestTracker_Integration_WaitCooldownExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{}, logger)
	ctx := context.Background()

	if _, err := tracker.Record429(ctx, time.Second); err != nil {
		t.Fatalf("Record429() error = %v", err)
	}

	start := time.Now()
	ok, err := tracker.Wait(ctx, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("Wait() = %v, %v; want true, nil", ok, err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Wait() returned after %v, want >= 1s", elapsed)
	}
}
