// Package mongocp provides a MongoDB-backed implementation of
// checkpoint.Store, grounded on the teacher's session/mongo client: small
// collection-wrapper interfaces for testability, a $setOnInsert idempotent
// upsert for session creation, and per-operation timeouts.
package mongocp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint"
)

const (
	defaultCollection = "agent_checkpoints"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo checkpoint store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a MongoDB-backed checkpoint.Store.
type Store struct {
	coll    collection
	timeout time.Duration
}

// New returns a Store backed by MongoDB, ensuring the unique session_id
// index exists before returning.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongocp: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongocp: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newStoreWithCollection(coll, timeout), nil
}

func newStoreWithCollection(coll collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{coll: coll, timeout: timeout}
}

// CreateSession implements checkpoint.Store.
func (s *Store) CreateSession(ctx context.Context, _ string, sessionID string, createdAt time.Time) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		// Idempotent insert: CreateSession must never overwrite state for an
		// existing session, so every field lives under $setOnInsert.
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": createdAt.UTC(),
			"updated_at": createdAt.UTC(),
		},
	}
	if _, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, sessionID string) (*agentstate.State, error) {
	if sessionID == "" {
		return nil, errors.New("mongocp: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc checkpointDocument
	if err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, err
	}
	if len(doc.StateJSON) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	return agentstate.Unmarshal(doc.StateJSON)
}

// Put implements checkpoint.Store.
func (s *Store) Put(ctx context.Context, sessionID string, state *agentstate.State) error {
	if sessionID == "" {
		return errors.New("mongocp: session id is required")
	}
	data, err := state.Marshal()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$set": bson.M{
			"session_id": sessionID,
			"state":      data,
			"updated_at": time.Now().UTC(),
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC(),
		},
	}
	_, err = s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("mongocp: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type checkpointDocument struct {
	SessionID string    `bson:"session_id"`
	StateJSON []byte    `bson:"state"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func ensureIndexes(ctx context.Context, coll collection) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, idx)
	return err
}

// collection narrows the mongo driver's Collection type to the operations
// this store needs, so tests can substitute a fake without a live server.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
