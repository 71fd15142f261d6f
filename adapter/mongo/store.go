package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/treelistings/publication-service/repository"
)

var _ repository.DocumentStore = (*Store)(nil)

// Store implements the DocumentStore capability on MongoDB: multi-document
// transactions with snapshot read concern for the atomic section, $inc for
// server-side increments, and change streams for watch delivery. Requires a
// replica set, as both transactions and change streams do.
type Store struct {
	db  *mongo.Database
	log *zap.Logger
}

func NewStore(client *mongo.Client, database string, log *zap.Logger) *Store {
	return &Store{
		db:  client.Database(database),
		log: log,
	}
}

func (s *Store) AllocateID() string {
	return primitive.NewObjectID().Hex()
}

func (s *Store) Get(ctx context.Context, collection, id string) (repository.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %v: %w", collection, id, err, repository.ErrUnavailable)
	}
	return toDocument(raw), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields repository.Document, merge bool) error {
	var err error
	if merge {
		_, err = s.db.Collection(collection).UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M(fields)},
			options.Update().SetUpsert(true),
		)
	} else {
		_, err = s.db.Collection(collection).ReplaceOne(ctx,
			bson.M{"_id": id},
			bson.M(fields),
			options.Replace().SetUpsert(true),
		)
	}
	if err != nil {
		return fmt.Errorf("set %s/%s: %v: %w", collection, id, err, repository.ErrUnavailable)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filter repository.Filter) (repository.Snapshot, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, toBSONFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("query %s: %v: %w", collection, err, repository.ErrUnavailable)
	}
	defer cursor.Close(ctx)

	snapshot := make(repository.Snapshot)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s document: %v: %w", collection, err, repository.ErrUnavailable)
		}
		id := documentID(raw)
		snapshot[id] = toDocument(raw)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %v: %w", collection, err, repository.ErrUnavailable)
	}
	return snapshot, nil
}

// Watch opens a change stream on the collection and re-queries the filtered
// result set after every event, delivering full snapshots. Each delivered
// snapshot is the result of a query issued after the event that triggered
// it, so successive snapshots are monotonic.
func (s *Store) Watch(ctx context.Context, collection string, filter repository.Filter, onChange func(repository.Snapshot)) (repository.CancelFunc, error) {
	streamCtx, stopStream := context.WithCancel(ctx)

	stream, err := s.db.Collection(collection).Watch(streamCtx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		stopStream()
		return nil, fmt.Errorf("watch %s: %v: %w", collection, err, repository.ErrUnavailable)
	}

	initial, err := s.Query(streamCtx, collection, filter)
	if err != nil {
		_ = stream.Close(context.Background())
		stopStream()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stream.Close(context.Background())

		onChange(initial)
		for stream.Next(streamCtx) {
			snapshot, qerr := s.Query(streamCtx, collection, filter)
			if qerr != nil {
				if streamCtx.Err() != nil {
					return
				}
				s.log.Warn("requery after change event failed",
					zap.String("collection", collection),
					zap.Error(qerr),
				)
				continue
			}
			onChange(snapshot)
		}
	}()

	cancel := func() {
		stopStream()
		// No callback runs after Cancel has returned.
		wg.Wait()
	}
	return cancel, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %v: %w", err, repository.ErrUnavailable)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txnOpts); err != nil {
			return err
		}
		if err := fn(sc, &mongoTx{db: s.db}); err != nil {
			if abortErr := sess.AbortTransaction(sc); abortErr != nil {
				s.log.Debug("abort transaction failed", zap.Error(abortErr))
			}
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return s.classify(err)
}

// classify maps driver errors onto the repository taxonomy. A write conflict
// detected by the server carries the TransientTransactionError label; an
// indeterminate commit carries UnknownTransactionCommitResult. Both mean the
// attempt may be retried from the read phase.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.HasErrorLabel("TransientTransactionError") || serverErr.HasErrorLabel("UnknownTransactionCommitResult") {
			return fmt.Errorf("transaction aborted by concurrent commit: %w", repository.ErrConflict)
		}
	}
	return fmt.Errorf("transaction failed: %v: %w", err, repository.ErrUnavailable)
}

// mongoTx issues its operations with the session context supplied to the
// transaction body, so every read and write joins the open transaction.
type mongoTx struct {
	db *mongo.Database
}

func (t *mongoTx) Get(ctx context.Context, collection, id string) (repository.Document, error) {
	var raw bson.M
	err := t.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("tx get %s/%s: %w", collection, id, err)
	}
	return toDocument(raw), nil
}

func (t *mongoTx) Set(ctx context.Context, collection, id string, fields repository.Document, merge bool) error {
	var err error
	if merge {
		_, err = t.db.Collection(collection).UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M(fields)},
			options.Update().SetUpsert(true),
		)
	} else {
		_, err = t.db.Collection(collection).ReplaceOne(ctx,
			bson.M{"_id": id},
			bson.M(fields),
			options.Replace().SetUpsert(true),
		)
	}
	if err != nil {
		return fmt.Errorf("tx set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t *mongoTx) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	_, err := t.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{field: delta}},
	)
	if err != nil {
		return fmt.Errorf("tx increment %s/%s.%s: %w", collection, id, field, err)
	}
	return nil
}

func toBSONFilter(filter repository.Filter) bson.M {
	query := bson.M{}
	for field, value := range filter.Equals {
		query[field] = value
	}
	for field, value := range filter.NotEquals {
		query[field] = bson.M{"$ne": value}
	}
	return query
}

func documentID(raw bson.M) string {
	switch id := raw["_id"].(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// toDocument converts a decoded bson.M into the store-neutral Document
// shape: BSON dates become time.Time, arrays become []any, int32 widens to
// int64 and the _id field is dropped (the ID travels beside the document).
func toDocument(raw bson.M) repository.Document {
	doc := make(repository.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		doc[k] = normalize(v)
	}
	return doc
}

func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(repository.Document, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case bson.D:
		out := make(repository.Document, len(val))
		for _, elem := range val {
			out[elem.Key] = normalize(elem.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.ObjectID:
		return val.Hex()
	case int32:
		return int64(val)
	default:
		return v
	}
}
