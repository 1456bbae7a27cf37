package mongodb

import (
	"context"
	"time"

	"github.com/goevery/notifier/internal/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const retention = 5 * 24 * time.Hour

type Journal struct {
	collection *mongo.Collection
}

func NewJournal(client *mongo.Client, database string) *Journal {
	collection := client.Database(database).Collection("webhook_deliveries")

	return &Journal{
		collection,
	}
}

func (j *Journal) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "receivedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
	}

	failedIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "failed", Value: 1},
			{Key: "_id", Value: -1},
		},
	}

	_, err := j.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, failedIndexModel})

	return err
}

func (j *Journal) Record(ctx context.Context, delivery persistence.Delivery) error {
	_, err := j.collection.InsertOne(ctx, bson.D{
		{Key: "receivedAt", Value: delivery.ReceivedAt},
		{Key: "subject", Value: delivery.Subject},
		{Key: "rawBody", Value: delivery.RawBody},
		{Key: "type", Value: string(delivery.Type)},
		{Key: "message", Value: delivery.Message},
		{Key: "failed", Value: delivery.Failed},
		{Key: "error", Value: delivery.Error},
	})

	return err
}
