package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/finpulse/alert-engine/internal/observ"
)

// MongoStore persists alerts in a MongoDB collection keyed by alert id.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewMongoStore connects to MongoDB and pings it before returning.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	observ.Log("mongo_connected", map[string]any{"database": database, "collection": collection})
	return &MongoStore{
		client: client,
		col:    client.Database(database).Collection(collection),
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) List(ctx context.Context, f Filter) ([]PriceAlert, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Market != "" {
		filter["market"] = f.Market
	}
	if f.ActiveOnly {
		filter["is_active"] = true
	}
	if f.UntriggeredOnly {
		filter["is_triggered"] = false
	}

	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer cur.Close(ctx)

	var out []PriceAlert
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, p Patch) error {
	set := bson.M{}
	unset := bson.M{}
	if p.IsActive != nil {
		set["is_active"] = *p.IsActive
	}
	if p.IsTriggered != nil {
		set["is_triggered"] = *p.IsTriggered
		if !*p.IsTriggered {
			unset["triggered_at"] = ""
		}
	}
	if p.TargetPrice != nil {
		set["target_price"] = *p.TargetPrice
	}
	if len(set) == 0 && len(unset) == 0 {
		return nil
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	// Zero matches means the record was deleted meanwhile: a no-op.
	if _, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	return nil
}

// MarkTriggered latches the alert if and only if it is still untriggered.
// The filter carries the guard so two overlapping evaluation cycles cannot
// both win.
func (s *MongoStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "is_triggered": false},
		bson.M{"$set": bson.M{"is_triggered": true, "triggered_at": at}},
	)
	if err != nil {
		return false, fmt.Errorf("mark triggered %s: %w", id, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	return nil
}

var _ AlertStore = (*MongoStore)(nil)
