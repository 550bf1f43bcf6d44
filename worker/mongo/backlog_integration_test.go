package mongo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fitcoach-ai/fitcoach/worker"
	workermongo "github.com/fitcoach-ai/fitcoach/worker/mongo"
)

// integrationBacklog starts a disposable MongoDB container and builds a
// backlog on it. Tests using it are skipped unless FITCOACH_IT is set.
func integrationBacklog(t *testing.T) *workermongo.Backlog {
	t.Helper()
	if os.Getenv("FITCOACH_IT") == "" {
		t.Skip("set FITCOACH_IT to run integration tests")
	}
	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	client, err := mongodriver.Connect(options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	backlog, err := workermongo.New(workermongo.Options{Client: client, Database: "fitcoach_it"})
	require.NoError(t, err)
	return backlog
}

func TestBacklogDrainsOldestFirst(t *testing.T) {
	backlog := integrationBacklog(t)
	ctx := context.Background()

	for i := range 3 {
		payload, err := json.Marshal(map[string]any{"user_id": fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
		require.NoError(t, backlog.Push(ctx, worker.Task{
			Kind:    worker.TaskVectorizeEntry,
			Payload: payload,
			Attempt: i,
		}))
	}

	first, err := backlog.Pop(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.JSONEq(t, `{"user_id":"u0"}`, string(first[0].Payload))
	assert.JSONEq(t, `{"user_id":"u1"}`, string(first[1].Payload))
	assert.Equal(t, 1, first[1].Attempt)

	rest, err := backlog.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.JSONEq(t, `{"user_id":"u2"}`, string(rest[0].Payload))

	// Popped tasks are deleted, not redelivered.
	empty, err := backlog.Pop(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBacklogRejectsKindlessTasks(t *testing.T) {
	backlog := integrationBacklog(t)
	err := backlog.Push(context.Background(), worker.Task{Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
}
