package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bizminder/internal/model"
)

// MongoStorage implements the Storage interface using MongoDB
type MongoStorage struct {
	client             *mongo.Client
	database           *mongo.Database
	reminderCollection *mongo.Collection
	userCollection     *mongo.Collection
}

// NewMongoStorage creates a new MongoDB storage instance
func NewMongoStorage(connectionString, databaseName string) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test the connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(databaseName)

	return &MongoStorage{
		client:             client,
		database:           database,
		reminderCollection: database.Collection("reminders"),
		userCollection:     database.Collection("users"),
	}, nil
}

// Close closes the MongoDB connection
func (ms *MongoStorage) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

// Reminder operations

func (ms *MongoStorage) CreateReminder(r *model.Reminder) error {
	ctx := context.Background()

	_, err := ms.reminderCollection.InsertOne(ctx, r)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}

	return nil
}

func (ms *MongoStorage) GetReminder(id string) (*model.Reminder, error) {
	ctx := context.Background()

	var r model.Reminder
	err := ms.reminderCollection.FindOne(ctx, bson.M{"id": id}).Decode(&r)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}

	return &r, nil
}

func (ms *MongoStorage) GetReminderByCallRef(ref string) (*model.Reminder, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	ctx := context.Background()

	var r model.Reminder
	err := ms.reminderCollection.FindOne(ctx, bson.M{"activeCallRef": ref}).Decode(&r)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder by call ref: %w", err)
	}

	return &r, nil
}

func (ms *MongoStorage) ListRemindersByOwner(ownerID string) ([]*model.Reminder, error) {
	return ms.findReminders(bson.M{"ownerId": ownerID, "isDeleted": false})
}

func (ms *MongoStorage) SoftDeleteReminder(id string, at time.Time) error {
	ctx := context.Background()

	update := bson.M{"$set": bson.M{"isDeleted": true, "deletedAt": at}}
	result, err := ms.reminderCollection.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to soft-delete reminder: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// Trigger candidate queries

func (ms *MongoStorage) DueTimeReminders(now time.Time) ([]*model.Reminder, error) {
	// $lte never matches documents without a triggerTime field.
	filter := bson.M{
		"triggerTime":  bson.M{"$lte": now},
		"timeNotified": false,
		"isDeleted":    false,
	}
	return ms.findReminders(filter)
}

func (ms *MongoStorage) LocationCandidates() ([]*model.Reminder, error) {
	filter := bson.M{
		"coordinates":      bson.M{"$exists": true},
		"locationNotified": false,
		"isDeleted":        false,
	}
	return ms.findReminders(filter)
}

func (ms *MongoStorage) findReminders(filter bson.M) ([]*model.Reminder, error) {
	ctx := context.Background()

	cursor, err := ms.reminderCollection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer cursor.Close(ctx)

	var reminders []*model.Reminder
	for cursor.Next(ctx) {
		var r model.Reminder
		if err := cursor.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to decode reminder: %w", err)
		}
		reminders = append(reminders, &r)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return reminders, nil
}

// Notification state

func (ms *MongoStorage) MarkNotified(id string, trigger model.TriggerType, at time.Time) error {
	ctx := context.Background()

	set := bson.M{"timeNotified": true, "timeNotifiedAt": at}
	if trigger == model.TriggerLocation {
		set = bson.M{"locationNotified": true, "locationNotifiedAt": at}
	}

	result, err := ms.reminderCollection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to mark reminder notified: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (ms *MongoStorage) ResetNotified(id string, trigger model.TriggerType) error {
	ctx := context.Background()

	update := bson.M{
		"$set":   bson.M{"timeNotified": false},
		"$unset": bson.M{"timeNotifiedAt": ""},
	}
	if trigger == model.TriggerLocation {
		update = bson.M{
			"$set":   bson.M{"locationNotified": false},
			"$unset": bson.M{"locationNotifiedAt": ""},
		}
	}

	result, err := ms.reminderCollection.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to reset notified flag: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// Call state

func (ms *MongoStorage) UpdateCallState(id string, state CallState) error {
	ctx := context.Background()

	set := bson.M{
		"callStatus":   state.Status,
		"callAttempts": state.Attempts,
	}
	if state.LastAttemptAt != nil {
		set["lastCallAttemptAt"] = *state.LastAttemptAt
	}
	update := bson.M{"$set": set}
	if state.ActiveCallRef != "" {
		set["activeCallRef"] = state.ActiveCallRef
	} else {
		update["$unset"] = bson.M{"activeCallRef": ""}
	}

	result, err := ms.reminderCollection.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update call state: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// User operations

func (ms *MongoStorage) CreateUser(u *model.User) error {
	ctx := context.Background()

	_, err := ms.userCollection.InsertOne(ctx, u)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (ms *MongoStorage) GetUser(id string) (*model.User, error) {
	ctx := context.Background()

	var u model.User
	err := ms.userCollection.FindOne(ctx, bson.M{"id": id}).Decode(&u)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

func (ms *MongoStorage) UpdateUserLocation(id string, loc model.Coordinates, at time.Time) error {
	ctx := context.Background()

	update := bson.M{"$set": bson.M{"lastLocation": loc, "lastLocationAt": at}}
	result, err := ms.userCollection.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update user location: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}
