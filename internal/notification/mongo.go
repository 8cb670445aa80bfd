package notification

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AuditCollection stores every settlement event for after-the-fact investigation.
const AuditCollection = "settlement_audit"

// documentInserter is the subset of *mongo.Collection used here.
type documentInserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// MongoAuditNotifier appends events to a MongoDB collection.
type MongoAuditNotifier struct {
	collection documentInserter
}

func NewMongoAuditNotifier(client *mongo.Client, database string) *MongoAuditNotifier {
	return &MongoAuditNotifier{collection: client.Database(database).Collection(AuditCollection)}
}

// Send inserts the event keyed by its ID. A duplicate key means the event was
// already recorded.
func (n *MongoAuditNotifier) Send(ctx context.Context, event Event) error {
	if _, err := n.collection.InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
