package mongocp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint"
	"github.com/agentcore/runtime/internal/model"
)

type fakeCollection struct {
	docs map[string]checkpointDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]checkpointDocument)}
}

func (f *fakeCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	id := filterSessionID(filter)
	doc, ok := f.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: &doc}
}

func (f *fakeCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	id := filterSessionID(filter)
	doc, existed := f.docs[id]
	doc.SessionID = id

	setMap, setOnInsert := extractUpdate(update)
	if !existed {
		for k, v := range setOnInsert {
			applyField(&doc, k, v)
		}
	}
	for k, v := range setMap {
		applyField(&doc, k, v)
	}
	f.docs[id] = doc
	return &mongodriver.UpdateResult{}, nil
}

func (f *fakeCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	id := filterSessionID(filter)
	delete(f.docs, id)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func (f *fakeCollection) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return "", nil
}

type fakeSingleResult struct {
	doc *checkpointDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	out, ok := val.(*checkpointDocument)
	if !ok {
		return errors.New("unexpected decode target")
	}
	*out = *r.doc
	return nil
}

func filterSessionID(filter any) string {
	m, ok := filter.(bson.M)
	if !ok {
		return ""
	}
	id, _ := m["session_id"].(string)
	return id
}

func extractUpdate(update any) (setFields, setOnInsert map[string]any) {
	m, ok := update.(bson.M)
	if !ok {
		return nil, nil
	}
	if s, ok := m["$set"].(bson.M); ok {
		setFields = map[string]any(s)
	}
	if s, ok := m["$setOnInsert"].(bson.M); ok {
		setOnInsert = map[string]any(s)
	}
	return
}

func applyField(doc *checkpointDocument, key string, value any) {
	switch key {
	case "session_id":
		doc.SessionID, _ = value.(string)
	case "state":
		doc.StateJSON, _ = value.([]byte)
	case "created_at":
		doc.CreatedAt, _ = value.(time.Time)
	case "updated_at":
		doc.UpdatedAt, _ = value.(time.Time)
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	coll := newFakeCollection()
	s := newStoreWithCollection(coll, time.Second)

	id1, err := s.CreateSession(context.Background(), "", "fixed", time.Now())
	require.NoError(t, err)
	id2, err := s.CreateSession(context.Background(), "", "fixed", time.Now())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestPutGetRoundTrip(t *testing.T) {
	coll := newFakeCollection()
	s := newStoreWithCollection(coll, time.Second)

	state := agentstate.New("sess-1", model.NewSystemMessage("hi"))
	require.NoError(t, s.Put(context.Background(), "sess-1", state))

	got, err := s.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	coll := newFakeCollection()
	s := newStoreWithCollection(coll, time.Second)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestDeleteRemovesDocument(t *testing.T) {
	coll := newFakeCollection()
	s := newStoreWithCollection(coll, time.Second)

	state := agentstate.New("sess-1", model.NewSystemMessage("hi"))
	require.NoError(t, s.Put(context.Background(), "sess-1", state))
	require.NoError(t, s.Delete(context.Background(), "sess-1"))

	_, err := s.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
