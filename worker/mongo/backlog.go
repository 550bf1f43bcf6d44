// Package mongo provides a Mongo-backed worker.Backlog: the durable overflow
// queue for vectorization work dropped by best-effort enqueue.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/worker"
)

const (
	defaultOpTimeout  = 10 * time.Second
	backlogClientName = "task-backlog-mongo"
)

type (
	// Options configures the backlog.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Timeout bounds each operation.
		Timeout time.Duration
	}

	// Backlog implements worker.Backlog on MongoDB.
	Backlog struct {
		mongo   *mongodriver.Client
		tasks   *mongodriver.Collection
		timeout time.Duration
	}

	taskDoc struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		Kind      string        `bson:"kind"`
		Payload   []byte        `bson:"payload,omitempty"`
		Attempt   int           `bson:"attempt,omitempty"`
		CreatedAt time.Time     `bson:"created_at"`
	}
)

// New builds a Backlog and ensures its index.
func New(opts Options) (*Backlog, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	b := &Backlog{
		mongo:   opts.Client,
		tasks:   opts.Client.Database(opts.Database).Collection("task_backlog"),
		timeout: timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := b.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// Name identifies the backlog for health checks.
func (b *Backlog) Name() string { return backlogClientName }

// Ping verifies connectivity to the primary.
func (b *Backlog) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.mongo.Ping(ctx, readpref.Primary())
}

// Push appends the task to the backlog.
func (b *Backlog) Push(ctx context.Context, task worker.Task) error {
	if task.Kind == "" {
		return errors.New("task kind is required")
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	_, err := b.tasks.InsertOne(ctx, taskDoc{
		ID:        bson.NewObjectID(),
		Kind:      task.Kind,
		Payload:   task.Payload,
		Attempt:   task.Attempt,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

// Pop removes and returns up to limit tasks, oldest first. The drain runs on
// a single schedule, so find-then-delete needs no cross-process coordination.
func (b *Backlog) Pop(ctx context.Context, limit int) ([]worker.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	cur, err := b.tasks.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var (
		out []worker.Task
		ids []bson.ObjectID
	)
	for cur.Next(ctx) {
		var doc taskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, worker.Task{Kind: doc.Kind, Payload: doc.Payload, Attempt: doc.Attempt})
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := b.tasks.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backlog) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}
