package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kahana-sysadmin/UnityEPL/internal/testutil"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

type MongoStoreTestSuite struct {
	suite.Suite
	client   *mongo.Client
	store    *MongoStore
	dbName   string
	collName string
}

func TestMongoTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("mongo ping failed: %v", err)
	}

	ts := &MongoStoreTestSuite{client: client, dbName: "epl_test", collName: "snapshots_test"}
	ts.store = NewMongoStore(client, ts.dbName, ts.collName)
	suite.Run(t, ts)
}

func (m *MongoStoreTestSuite) SetupTest() {
	err := m.client.Database(m.dbName).Collection(m.collName).Drop(context.Background())
	m.Require().NoError(err)
}

func (m *MongoStoreTestSuite) TestContract() {
	testSnapshotStore(m.T(), m.store)
}

func (m *MongoStoreTestSuite) TestDocumentIDIsIdentityKey() {
	ctx := context.Background()
	st := sampleState("LTP001", 2)
	m.Require().NoError(m.store.Save(ctx, st))

	var doc bson.M
	err := m.client.Database(m.dbName).Collection(m.collName).
		FindOne(ctx, bson.M{"_id": "LTP001/2"}).Decode(&doc)
	m.Require().NoError(err)
	m.Equal("LTP001", doc["participant"])
}

func (m *MongoStoreTestSuite) TestCorruptBody() {
	ctx := context.Background()
	_, err := m.client.Database(m.dbName).Collection(m.collName).InsertOne(ctx, bson.M{
		"_id": "LTP001/9", "participant": "LTP001", "session": 9, "body": "{",
	})
	m.Require().NoError(err)

	_, err = m.store.Load(ctx, api.RunIdentity{Participant: "LTP001", Session: 9})
	m.ErrorIs(err, ErrCorruptSnapshot)
}
