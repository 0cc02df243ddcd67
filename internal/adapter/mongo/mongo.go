// Package mongo implements the storage adapter contract on MongoDB.
//
// Each class maps to one collection; the object id lives in _id and
// every other field is a native document member, so filters translate
// to plain query documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// Adapter is the MongoDB storage adapter.
type Adapter struct {
	client *driver.Client
	db     *driver.Database
	reg    *schema.Registry
}

var _ adapter.Adapter = (*Adapter)(nil)

// New connects to the server named by uri and selects database.
func New(ctx context.Context, uri, database string, reg *schema.Registry) (*Adapter, error) {
	client, err := driver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Adapter{client: client, db: client.Database(database), reg: reg}, nil
}

// Connect verifies the connection.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.client.Ping(ctx, nil)
}

// Close disconnects from the server.
func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

func (a *Adapter) collection(class string) *driver.Collection {
	return a.db.Collection(strings.ToLower(class))
}

// EnsureClass creates the class collection when absent. Idempotent.
func (a *Adapter) EnsureClass(ctx context.Context, class schema.Class) error {
	err := a.db.CreateCollection(ctx, strings.ToLower(class.Name))
	if err != nil {
		var cmdErr driver.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return fmt.Errorf("ensure class %s: %w", class.Name, err)
	}
	return nil
}

// Count counts documents matching a compiled filter.
func (a *Adapter) Count(ctx context.Context, p adapter.CountParams) (int64, error) {
	filter, err := buildFilter(p.Where)
	if err != nil {
		return 0, err
	}
	n, err := a.collection(p.Class).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.Class, err)
	}
	return n, nil
}

// GetObject fetches one document by id plus filter.
func (a *Adapter) GetObject(ctx context.Context, p adapter.GetParams) (map[string]any, error) {
	filter, err := idFilter(p.ID, p.Where)
	if err != nil {
		return nil, err
	}
	opts := options.FindOne()
	if proj := projection(p.Select); proj != nil {
		opts.SetProjection(proj)
	}
	var doc bson.M
	if err := a.collection(p.Class).FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", p.Class, err)
	}
	return decodeDoc(doc), nil
}

// GetObjects fetches documents matching a compiled filter, honoring
// order and pagination.
func (a *Adapter) GetObjects(ctx context.Context, p adapter.ListParams) ([]map[string]any, error) {
	filter, err := buildFilter(p.Where)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if proj := projection(p.Select); proj != nil {
		opts.SetProjection(proj)
	}
	if sortSpec := sortDoc(p.Order); len(sortSpec) > 0 {
		opts.SetSort(sortSpec)
	}
	if p.First > 0 {
		opts.SetLimit(int64(p.First))
	}
	if p.Offset > 0 {
		opts.SetSkip(int64(p.Offset))
	}

	cur, err := a.collection(p.Class).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.Class, err)
	}
	defer cur.Close(ctx)

	out := []map[string]any{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("list %s: %w", p.Class, err)
		}
		out = append(out, decodeDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", p.Class, err)
	}
	return out, nil
}

// CreateObject inserts one document with a fresh id.
func (a *Adapter) CreateObject(ctx context.Context, p adapter.CreateParams) (string, error) {
	doc := encodeDoc(p.Data)
	id := uuid.NewString()
	doc["_id"] = id
	if _, err := a.collection(p.Class).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("create %s: %w", p.Class, err)
	}
	return id, nil
}

// CreateObjects inserts a batch; returned ids align with the input
// payloads.
func (a *Adapter) CreateObjects(ctx context.Context, p adapter.CreateManyParams) ([]string, error) {
	if len(p.Data) == 0 {
		return []string{}, nil
	}
	ids := make([]string, len(p.Data))
	docs := make([]any, len(p.Data))
	for i, data := range p.Data {
		doc := encodeDoc(data)
		ids[i] = uuid.NewString()
		doc["_id"] = ids[i]
		docs[i] = doc
	}
	opts := options.InsertMany().SetOrdered(true)
	if _, err := a.collection(p.Class).InsertMany(ctx, docs, opts); err != nil {
		return nil, fmt.Errorf("create batch %s: %w", p.Class, err)
	}
	return ids, nil
}

// UpdateObject sets the given top-level fields of one document.
func (a *Adapter) UpdateObject(ctx context.Context, p adapter.UpdateParams) (string, error) {
	filter, err := idFilter(p.ID, p.Where)
	if err != nil {
		return "", err
	}
	res, err := a.collection(p.Class).UpdateOne(ctx, filter, setDoc(p.Data))
	if err != nil {
		return "", fmt.Errorf("update %s: %w", p.Class, err)
	}
	if res.MatchedCount == 0 {
		return "", adapter.ErrNotFound
	}
	return p.ID, nil
}

// UpdateObjects applies one change set to every document matching the
// filter and returns the touched ids in id order.
func (a *Adapter) UpdateObjects(ctx context.Context, p adapter.UpdateManyParams) ([]string, error) {
	filter, err := buildFilter(p.Where)
	if err != nil {
		return nil, err
	}
	ids, err := a.matchingIDs(ctx, p.Class, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	byID := bson.M{"_id": bson.M{"$in": ids}}
	if _, err := a.collection(p.Class).UpdateMany(ctx, byID, setDoc(p.Data)); err != nil {
		return nil, fmt.Errorf("update many %s: %w", p.Class, err)
	}
	return ids, nil
}

// DeleteObject deletes one document by id plus filter.
func (a *Adapter) DeleteObject(ctx context.Context, p adapter.DeleteParams) error {
	filter, err := idFilter(p.ID, p.Where)
	if err != nil {
		return err
	}
	res, err := a.collection(p.Class).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p.Class, err)
	}
	if res.DeletedCount == 0 {
		return adapter.ErrNotFound
	}
	return nil
}

// DeleteObjects deletes every document matching the filter.
func (a *Adapter) DeleteObjects(ctx context.Context, p adapter.DeleteManyParams) error {
	filter, err := buildFilter(p.Where)
	if err != nil {
		return err
	}
	if _, err := a.collection(p.Class).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete many %s: %w", p.Class, err)
	}
	return nil
}

// ClearDatabase drops every class collection.
func (a *Adapter) ClearDatabase(ctx context.Context) error {
	for _, class := range a.reg.Classes() {
		if err := a.collection(class.Name).Drop(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", class.Name, err)
		}
	}
	return nil
}

func (a *Adapter) matchingIDs(ctx context.Context, class string, filter bson.M) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := a.collection(class).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("select ids %s: %w", class, err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("select ids %s: %w", class, err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("select ids %s: %w", class, err)
	}
	return ids, nil
}

func idFilter(id string, node where.Node) (bson.M, error) {
	cond, err := buildFilter(node)
	if err != nil {
		return nil, err
	}
	if len(cond) == 0 {
		return bson.M{"_id": id}, nil
	}
	return bson.M{"$and": []bson.M{{"_id": id}, cond}}, nil
}

// projection translates a field selection; nil means every field.
func projection(sel where.Select) bson.M {
	if sel == nil {
		return nil
	}
	proj := bson.M{"_id": 1}
	for field := range sel {
		if field == "id" {
			continue
		}
		proj[field] = 1
	}
	return proj
}

func sortDoc(order []where.Order) bson.D {
	spec := make(bson.D, 0, len(order))
	for _, o := range order {
		dir := 1
		if o.Direction == where.Desc {
			dir = -1
		}
		spec = append(spec, bson.E{Key: fieldPath(o.Field), Value: dir})
	}
	return spec
}

func setDoc(data map[string]any) bson.M {
	set := make(bson.M, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		set[k] = v
	}
	return bson.M{"$set": set}
}

func encodeDoc(data map[string]any) bson.M {
	doc := make(bson.M, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	return doc
}

// decodeDoc renames _id to id and rewrites driver container and number
// types so rows look the same regardless of backend.
func decodeDoc(doc bson.M) map[string]any {
	row := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			row["id"] = v
			continue
		}
		row[k] = normalize(v)
	}
	return row
}

func normalize(v any) any {
	switch value := v.(type) {
	case bson.M:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalize(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(value))
		for _, e := range value {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalize(item)
		}
		return out
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return v
	}
}
