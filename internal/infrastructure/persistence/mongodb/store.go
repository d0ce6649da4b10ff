// Package mongodb implements store.Store on MongoDB. Store operations map
// onto native update operators, so Update is a single atomic UpdateOne
// whose filter carries the preconditions.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/retry"
)

// Config selects the deployment and database.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements store.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

var _ store.Store = (*Store)(nil)

// Connect opens a client and pings the primary, retrying while the server
// comes up.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)

	client, err := retry.DoWithData(ctx, retry.ConnectRetrier(), func(ctx context.Context) (*mongo.Client, error) {
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("mongo: connect: %w", err)
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo: ping: %w", err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log.With(logger.Component("mongo_store")),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Get returns the document or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: idKey, Value: id}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get %s/%s: %w", collection, id, err)
	}
	return decode(raw)
}

// Set replaces the document, or with Merge flattens it into $set paths.
func (s *Store) Set(ctx context.Context, collection, id string, doc store.Document, opts ...store.SetOption) error {
	body, err := store.Encode(doc)
	if err != nil {
		return err
	}
	body[store.IDField] = id
	delete(body, idKey)

	coll := s.db.Collection(collection)
	filter := bson.D{{Key: idKey, Value: id}}
	if store.ApplySetOptions(opts).Merge {
		_, err = coll.UpdateOne(ctx, filter, mergeSet(body), options.Update().SetUpsert(true))
	} else {
		_, err = coll.ReplaceOne(ctx, filter, map[string]any(body), options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("mongo: set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update applies ops in one UpdateOne guarded by the preconditions. When
// nothing matches, a second lookup tells a missing document from a failed
// precondition.
func (s *Store) Update(ctx context.Context, collection, id string, ops []store.Op, conds ...store.Precondition) error {
	filter, err := conditionFilter(id, conds)
	if err != nil {
		return err
	}
	coll := s.db.Collection(collection)

	var matched int64
	if len(ops) == 0 {
		matched, err = coll.CountDocuments(ctx, filter)
	} else {
		var update bson.D
		update, err = updateDocument(ops)
		if err != nil {
			return err
		}
		var res *mongo.UpdateResult
		res, err = coll.UpdateOne(ctx, filter, update)
		if res != nil {
			matched = res.MatchedCount
		}
	}
	if err != nil {
		var we mongo.WriteException
		if errors.As(err, &we) {
			return fmt.Errorf("%w: %v", store.ErrTypeMismatch, err)
		}
		return fmt.Errorf("mongo: update %s/%s: %w", collection, id, err)
	}
	if matched > 0 {
		return nil
	}

	n, err := coll.CountDocuments(ctx, bson.D{{Key: idKey, Value: id}})
	if err != nil {
		return fmt.Errorf("mongo: update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %s/%s", store.ErrPreconditionFailed, collection, id)
}

// Query runs a find with the translated filter, sort and paging.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	filter, err := queryFilter(q.Filters)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(sortOrder(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	cur, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	out := make([]store.Document, 0)
	for cur.Next(ctx) {
		doc, err := decode(cur.Current)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: query %s: %w", q.Collection, err)
	}
	return out, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: idKey, Value: id}})
	if err != nil {
		return fmt.Errorf("mongo: delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// decode converts BSON to the JSON-shaped document the domain expects by
// going through relaxed extended JSON, which renders every number as a
// plain JSON number.
func decode(raw bson.Raw) (store.Document, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("mongo: decode: %w", err)
	}
	var doc store.Document
	if err := json.Unmarshal(ext, &doc); err != nil {
		return nil, fmt.Errorf("mongo: decode: %w", err)
	}
	if id, ok := doc[idKey].(string); ok {
		doc[store.IDField] = id
	}
	delete(doc, idKey)
	return doc, nil
}
