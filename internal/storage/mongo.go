package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"tracspend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultMongoDatabase = "tracspend"
	expensesCollection   = "expenses"
	mongoTimeout         = 10 * time.Second
)

// expenseDoc is the stored shape of an expense document.
type expenseDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    string             `bson:"userId"`
	Amount    float64            `bson:"amount"`
	Tag       string             `bson:"tag"`
	Date      time.Time          `bson:"date"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d expenseDoc) model() models.Expense {
	return models.Expense{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Amount:    d.Amount,
		Tag:       d.Tag,
		Date:      d.Date.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoStore is the MongoDB-backed Store. The client is connected on first
// use and then held for the life of the process.
type MongoStore struct {
	uri    string
	dbName string
	now    func() time.Time

	mu     sync.Mutex
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore returns a store for uri without connecting. The database name
// is taken from the URI path, defaulting to "tracspend".
func NewMongoStore(uri string) *MongoStore {
	return &MongoStore{uri: uri, dbName: mongoDatabaseName(uri), now: time.Now}
}

func mongoDatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (s *MongoStore) collection(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return s.coll, nil
	}

	opts := options.Client().
		ApplyURI(s.uri).
		SetMaxPoolSize(10).
		SetServerSelectionTimeout(mongoTimeout).
		SetConnectTimeout(mongoTimeout).
		SetSocketTimeout(mongoTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	coll := client.Database(s.dbName).Collection(expensesCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create index: %w", err)
	}

	s.client = client
	s.coll = coll
	return coll, nil
}

// ownedFilter matches the document with id owned by userID. ok is false when
// id is not a valid ObjectID and therefore cannot match anything.
func ownedFilter(userID, id string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "userId": userID}, true
}

// ListExpenses retrieves every expense owned by userID, ordered by date descending.
func (s *MongoStore) ListExpenses(ctx context.Context, userID string) ([]models.Expense, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := coll.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []expenseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	expenses := make([]models.Expense, 0, len(docs))
	for _, d := range docs {
		expenses = append(expenses, d.model())
	}
	return expenses, nil
}

// CreateExpense inserts a new expense, filling its identifier and timestamps.
func (s *MongoStore) CreateExpense(ctx context.Context, e *models.Expense) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	prepareNew(e, s.now)
	oid, err := primitive.ObjectIDFromHex(e.ID)
	if err != nil {
		return fmt.Errorf("expense id: %w", err)
	}
	_, err = coll.InsertOne(ctx, expenseDoc{
		ID:        oid,
		UserID:    e.UserID,
		Amount:    e.Amount,
		Tag:       e.Tag,
		Date:      e.Date,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	})
	return err
}

// UpdateExpense applies patch to the expense with id owned by userID and
// returns the stored result.
func (s *MongoStore) UpdateExpense(ctx context.Context, userID, id string, patch ExpensePatch) (*models.Expense, error) {
	filter, ok := ownedFilter(userID, id)
	if !ok {
		return nil, ErrNotFound
	}
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	var current expenseDoc
	if err := coll.FindOne(ctx, filter).Decode(&current); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	set := bson.M{"updatedAt": updateStamp(s.now, current.CreatedAt.UTC())}
	if patch.Amount != nil {
		set["amount"] = *patch.Amount
	}
	if patch.Tag != nil {
		set["tag"] = *patch.Tag
	}
	if patch.Date != nil {
		set["date"] = patch.Date.UTC()
	}

	var updated expenseDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e := updated.model()
	return &e, nil
}

// DeleteExpense removes the expense with id if it is owned by userID.
func (s *MongoStore) DeleteExpense(ctx context.Context, userID, id string) error {
	filter, ok := ownedFilter(userID, id)
	if !ok {
		return ErrNotFound
	}
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	result, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllExpenses removes every expense owned by userID.
func (s *MongoStore) DeleteAllExpenses(ctx context.Context, userID string) (int64, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	result, err := coll.DeleteMany(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// TagTotalsByMonth sums the owner's expenses per tag for a calendar month.
func (s *MongoStore) TagTotalsByMonth(ctx context.Context, userID string, year, month int) ([]TagTotal, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	start, end := monthBounds(year, month)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"userId": userID,
			"date":   bson.M{"$gte": start, "$lt": end},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$tag",
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Tag   string  `bson:"_id"`
		Total float64 `bson:"total"`
		Count int     `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	totals := make([]TagTotal, 0, len(rows))
	for _, r := range rows {
		totals = append(totals, TagTotal{Tag: r.Tag, Total: r.Total, Count: r.Count})
	}
	return totals, nil
}

// Ping connects if needed and checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if _, err := s.collection(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client if one was opened.
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(context.Background())
	s.client = nil
	s.coll = nil
	return err
}
