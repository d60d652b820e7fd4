// Package mongodb implements handler.Handler for MongoDB.
//
// Destroy and create scripts are Extended JSON files holding one command document,
// or an array of them, run in order against the configured database:
//
//	[
//	  {"drop": "users"},
//	  {"create": "users"},
//	  {"createIndexes": "users", "indexes": [{"key": {"email": 1}, "name": "email", "unique": true}]}
//	]
//
// A fixture is an Extended JSON document mapping collection names to arrays of
// documents. Collections are filled in file order:
//
//	{"users": [{"_id": {"$oid": "65a000000000000000000001"}, "email": "ada@example.com"}]}
//
// Reset targets are database names; every collection in them is emptied.
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
)

const pingTimeout = 10 * time.Second

// Handler runs command scripts and fixtures against one MongoDB database.
type Handler struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

var _ handler.Handler = (*Handler)(nil)

// Open is a handler.Factory for config.TypeMongoDB.
func Open(ctx context.Context, desc config.Database, logger *zap.Logger) (handler.Handler, error) {
	if desc.DSN == "" {
		return nil, fmt.Errorf("MongoDB dsn is required")
	}
	if desc.Name == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(desc.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Debug("Connected to MongoDB", zap.String("database", desc.Name))
	return &Handler{
		client:   client,
		database: client.Database(desc.Name),
		logger:   logger,
	}, nil
}

// Database returns the configured database for direct access in tests.
func (h *Handler) Database() *mongo.Database {
	return h.database
}

// Destroy runs the database commands in script.
func (h *Handler) Destroy(ctx context.Context, script string) error {
	h.logger.Debug("Running destroy script", zap.String("script", script))
	return h.runScript(ctx, script)
}

// Initialize runs the database commands in script.
func (h *Handler) Initialize(ctx context.Context, script string) error {
	h.logger.Debug("Running create script", zap.String("script", script))
	return h.runScript(ctx, script)
}

func (h *Handler) runScript(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %q: %w", path, err)
	}
	commands, err := ParseCommands(data)
	if err != nil {
		return fmt.Errorf("failed to parse script %q: %w", path, err)
	}
	for i, cmd := range commands {
		if err := h.database.RunCommand(ctx, cmd).Err(); err != nil {
			return fmt.Errorf("command %d of script %q failed: %w", i, path, err)
		}
	}
	return nil
}

// LoadFixture inserts the documents of a fixture file, collection by collection.
func (h *Handler) LoadFixture(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture %q: %w", path, err)
	}
	batches, err := ParseFixture(data)
	if err != nil {
		return fmt.Errorf("failed to parse fixture %q: %w", path, err)
	}
	for _, b := range batches {
		if len(b.Documents) == 0 {
			continue
		}
		if _, err := h.database.Collection(b.Collection).InsertMany(ctx, b.Documents); err != nil {
			return fmt.Errorf("failed to load fixture %q into %s: %w", path, b.Collection, err)
		}
	}
	h.logger.Debug("Loaded fixture", zap.String("fixture", path), zap.Int("collections", len(batches)))
	return nil
}

// Reset deletes every document from every collection of the given databases.
// Views and system collections are left alone.
func (h *Handler) Reset(ctx context.Context, databases []string) error {
	for _, name := range databases {
		db := h.client.Database(name)
		collections, err := db.ListCollectionNames(ctx, bson.D{{Key: "type", Value: "collection"}})
		if err != nil {
			return fmt.Errorf("failed to list collections of %s: %w", name, err)
		}
		for _, c := range collections {
			if strings.HasPrefix(c, "system.") {
				continue
			}
			if _, err := db.Collection(c).DeleteMany(ctx, bson.D{}); err != nil {
				return fmt.Errorf("failed to clear %s.%s: %w", name, c, err)
			}
		}
		h.logger.Debug("Reset database", zap.String("database", name), zap.Strings("collections", collections))
	}
	return nil
}

// Close disconnects the client.
func (h *Handler) Close() error {
	if h.client == nil {
		return nil
	}
	err := h.client.Disconnect(context.Background())
	h.client = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// Batch is the documents a fixture inserts into one collection.
type Batch struct {
	Collection string
	Documents  []any
}

// ParseCommands decodes an Extended JSON command document, or an array of them.
func ParseCommands(data []byte) ([]bson.D, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty script")
	}
	if trimmed[0] != '[' {
		var cmd bson.D
		if err := bson.UnmarshalExtJSON(trimmed, false, &cmd); err != nil {
			return nil, err
		}
		return []bson.D{cmd}, nil
	}

	// A top-level array is not a document, so it is wrapped before decoding.
	var wrapped struct {
		Commands []bson.D `bson:"commands"`
	}
	doc := append(append([]byte(`{"commands":`), trimmed...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Commands, nil
}

// ParseFixture decodes a fixture document, keeping collection order.
func ParseFixture(data []byte) ([]Batch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("fixture must be a document of collection arrays")
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(trimmed, false, &doc); err != nil {
		return nil, err
	}
	batches := make([]Batch, 0, len(doc))
	for _, elem := range doc {
		arr, ok := elem.Value.(bson.A)
		if !ok {
			return nil, fmt.Errorf("collection %q: expected an array of documents, got %T", elem.Key, elem.Value)
		}
		docs := make([]any, 0, len(arr))
		for i, v := range arr {
			d, ok := v.(bson.D)
			if !ok {
				return nil, fmt.Errorf("collection %q: element %d is %T, not a document", elem.Key, i, v)
			}
			docs = append(docs, d)
		}
		batches = append(batches, Batch{Collection: elem.Key, Documents: docs})
	}
	return batches, nil
}
