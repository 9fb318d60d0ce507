package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startQdrant(t *testing.T) Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping qdrant integration test in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("qdrant container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatal(err)
	}
	return Config{Host: host, Port: port.Int()}
}

func TestQdrantRoundTrip(t *testing.T) {
	c, err := NewClient(startQdrant(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := c.EnsureCollection(ctx, "files", 3); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := c.EnsureCollection(ctx, "files", 3); err != nil {
		t.Fatalf("ensure is idempotent: %v", err)
	}

	near := uuid.NewString()
	if err := c.Upsert(ctx, "files", near, []float32{1, 0, 0}, map[string]string{"content": "near"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.Upsert(ctx, "files", uuid.NewString(), []float32{0, 1, 0}, map[string]string{"content": "far"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := c.Search(ctx, "files", []float32{1, 0.1, 0}, 5, 0.5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != near || hits[0].Payload["content"] != "near" {
		t.Errorf("hits = %+v", hits)
	}

	if err := c.DeleteCollection(ctx, "files"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
