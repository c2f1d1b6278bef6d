package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// MongoStore is a SnapshotStore backed by a MongoDB collection with one
// document per run, keyed by the identity key.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

var (
	_ SnapshotStore  = (*MongoStore)(nil)
	_ SnapshotLister = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed snapshot store.
// dbName defaults to "epl" if empty, collName defaults to "snapshots".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "epl"
	}
	if collName == "" {
		collName = "snapshots"
	}
	return &MongoStore{
		coll: client.Database(dbName).Collection(collName),
		now:  time.Now,
	}
}

type mongoSnapshotDoc struct {
	ID          string    `bson:"_id"`
	Participant string    `bson:"participant"`
	Session     int       `bson:"session"`
	Body        string    `bson:"body"`
	SavedAt     time.Time `bson:"saved_at"`
}

func (s *MongoStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	var doc mongoSnapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id.Key()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	st, _, err := DecodeSnapshot([]byte(doc.Body))
	return st, err
}

func (s *MongoStore) Save(ctx context.Context, st *api.State) error {
	now := s.now()
	body, err := EncodeSnapshot(st, now)
	if err != nil {
		return err
	}
	doc := mongoSnapshotDoc{
		ID:          st.Identity.Key(),
		Participant: st.Identity.Participant,
		Session:     st.Identity.Session,
		Body:        string(body),
		SavedAt:     now.UTC(),
	}
	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) List(ctx context.Context) ([]api.RunIdentity, error) {
	opts := options.Find().
		SetProjection(bson.M{"participant": 1, "session": 1}).
		SetSort(bson.D{{Key: "participant", Value: 1}, {Key: "session", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.RunIdentity
	for cur.Next(ctx) {
		var doc mongoSnapshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.RunIdentity{Participant: doc.Participant, Session: doc.Session})
	}
	return out, cur.Err()
}
