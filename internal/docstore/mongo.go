package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo server error codes for array operators on non-array fields.
const (
	mongoBadValue     = 2
	mongoTypeMismatch = 14
)

// MongoStore maps collections one-to-one onto MongoDB collections and
// uses the server's native update operators for array mutations.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo connects, pings the primary and ensures unique indexes.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck // cleanup on error path
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck // cleanup on error path
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	for collection, field := range uniqueFields {
		_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("creating %s.%s index: %w", collection, field, err)
		}
	}
	return nil
}

// toBSONDocument round-trips v through relaxed extended JSON so stored
// documents keep their JSON field names and order.
func toBSONDocument(v any) (bson.D, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("converting document to bson: %w", err)
	}
	return doc, nil
}

// toBSONValue converts any JSON value, including scalars.
func toBSONValue(v any) (any, error) {
	doc, err := toBSONDocument(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return doc[0].Value, nil
}

// fromBSON converts a stored document back to JSON without the _id key.
func fromBSON(raw bson.Raw) ([]byte, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("converting bson to json: %w", err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return json.Marshal(doc)
}

func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, collection, id string, out any) error {
	raw, err := s.db.Collection(collection).FindOne(ctx, byID(id)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying document: %w", err)
	}
	data, err := fromBSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

func mongoFilter(filter Filter) (bson.D, error) {
	query := bson.D{}
	for _, path := range sortedKeys(filter.Eq) {
		v, err := toBSONValue(filter.Eq[path])
		if err != nil {
			return nil, err
		}
		query = append(query, bson.E{Key: path, Value: v})
	}
	for _, path := range sortedKeys(filter.ElemMatch) {
		fields, err := toBSONDocument(filter.ElemMatch[path])
		if err != nil {
			return nil, err
		}
		query = append(query, bson.E{Key: path, Value: bson.D{{Key: "$elemMatch", Value: fields}}})
	}
	return query, nil
}

// Query implements Store.
func (s *MongoStore) Query(ctx context.Context, collection string, filter Filter, out any) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	query, err := mongoFilter(filter)
	if err != nil {
		return err
	}

	cursor, err := s.db.Collection(collection).Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer cursor.Close(ctx)

	var raws [][]byte
	for cursor.Next(ctx) {
		data, err := fromBSON(cursor.Current)
		if err != nil {
			return err
		}
		raws = append(raws, data)
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterating documents: %w", err)
	}

	return decodeList(raws, out)
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, collection, id string, doc any) error {
	d, err := toBSONDocument(doc)
	if err != nil {
		return err
	}
	d = append(bson.D{{Key: "_id", Value: id}}, d...)

	_, err = s.db.Collection(collection).InsertOne(ctx, d)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// flattenPatch turns a merge patch into $set and $unset paths. Nested
// objects merge field by field and null removes the field.
func flattenPatch(prefix string, patch map[string]any, set, unset bson.D) (bson.D, bson.D, error) {
	for _, key := range sortedKeys(patch) {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := patch[key].(type) {
		case nil:
			unset = append(unset, bson.E{Key: path, Value: ""})
		case map[string]any:
			var err error
			set, unset, err = flattenPatch(path, v, set, unset)
			if err != nil {
				return nil, nil, err
			}
		default:
			bv, err := toBSONValue(v)
			if err != nil {
				return nil, nil, err
			}
			set = append(set, bson.E{Key: path, Value: bv})
		}
	}
	return set, unset, nil
}

// Update implements Store.
func (s *MongoStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	set, unset, err := flattenPatch("", patch, nil, nil)
	if err != nil {
		return err
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}

	coll := s.db.Collection(collection)
	if len(update) == 0 {
		n, err := coll.CountDocuments(ctx, byID(id))
		if err != nil {
			return fmt.Errorf("querying document: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	result, err := coll.UpdateOne(ctx, byID(id), update)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.Collection(collection).DeleteOne(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) updateArray(ctx context.Context, collection, id, field string, update bson.D) (*mongo.UpdateResult, error) {
	result, err := s.db.Collection(collection).UpdateOne(ctx, byID(id), update)
	if isMongoNotArray(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, field)
	}
	if err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// PushCapped implements Store with $push, $each and a negative $slice.
func (s *MongoStore) PushCapped(ctx context.Context, collection, id, field string, value any, limit int) error {
	v, err := toBSONValue(value)
	if err != nil {
		return err
	}
	modifier := bson.D{{Key: "$each", Value: bson.A{v}}}
	if limit > 0 {
		modifier = append(modifier, bson.E{Key: "$slice", Value: -limit})
	}

	_, err = s.updateArray(ctx, collection, id, field,
		bson.D{{Key: "$push", Value: bson.D{{Key: field, Value: modifier}}}})
	return err
}

// AddToSet implements Store.
func (s *MongoStore) AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error) {
	v, err := toBSONValue(value)
	if err != nil {
		return false, err
	}
	result, err := s.updateArray(ctx, collection, id, field,
		bson.D{{Key: "$addToSet", Value: bson.D{{Key: field, Value: v}}}})
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// Pull implements Store. An object match acts as a field-subset condition.
func (s *MongoStore) Pull(ctx context.Context, collection, id, field string, match any) (bool, error) {
	v, err := toBSONValue(match)
	if err != nil {
		return false, err
	}
	result, err := s.updateArray(ctx, collection, id, field,
		bson.D{{Key: "$pull", Value: bson.D{{Key: field, Value: v}}}})
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// HealthCheck implements Store.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo health check failed: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	if err := s.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("disconnecting mongo: %w", err)
	}
	return nil
}

func isMongoNotArray(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == mongoBadValue || e.Code == mongoTypeMismatch {
			return true
		}
	}
	return false
}
