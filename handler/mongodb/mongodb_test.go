package mongodb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap/zaptest"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/mongodb"
)

func TestParseCommands(t *testing.T) {
	t.Run("single document", func(t *testing.T) {
		cmds, err := mongodb.ParseCommands([]byte(`  {"drop": "users"}  `))
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, bson.D{{Key: "drop", Value: "users"}}, cmds[0])
	})

	t.Run("array keeps order", func(t *testing.T) {
		cmds, err := mongodb.ParseCommands([]byte(`[
			{"create": "users"},
			{"createIndexes": "users", "indexes": [{"key": {"email": 1}, "name": "email"}]}
		]`))
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, "create", cmds[0][0].Key)
		assert.Equal(t, "createIndexes", cmds[1][0].Key)
		assert.Equal(t, "indexes", cmds[1][1].Key)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := mongodb.ParseCommands([]byte("  \n"))
		assert.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := mongodb.ParseCommands([]byte(`{"drop": `))
		assert.Error(t, err)
	})
}

func TestParseFixture(t *testing.T) {
	batches, err := mongodb.ParseFixture([]byte(`{
		"users": [
			{"_id": {"$oid": "65a000000000000000000001"}, "email": "ada@example.com"},
			{"_id": {"$oid": "65a000000000000000000002"}, "email": "grace@example.com"}
		],
		"orders": [{"user": {"$oid": "65a000000000000000000001"}, "total": {"$numberLong": "10"}}],
		"empty": []
	}`))
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, "users", batches[0].Collection)
	assert.Len(t, batches[0].Documents, 2)
	assert.Equal(t, "orders", batches[1].Collection)
	assert.Empty(t, batches[2].Documents)

	order := batches[1].Documents[0].(bson.D)
	oid, err := bson.ObjectIDFromHex("65a000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, bson.E{Key: "user", Value: oid}, order[0])
	assert.Equal(t, bson.E{Key: "total", Value: int64(10)}, order[1])
}

func TestParseFixture_Invalid(t *testing.T) {
	tests := map[string]string{
		"not an array":       `{"users": {"email": "x"}}`,
		"array of scalars":   `{"users": [1, 2]}`,
		"top-level array":    `[{"users": []}]`,
		"malformed document": `{"users": [`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := mongodb.ParseFixture([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestOpen_RequiresDSNAndName(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	_, err := mongodb.Open(ctx, config.Database{Type: config.TypeMongoDB, Name: "app"}, logger)
	assert.Error(t, err)

	_, err = mongodb.Open(ctx, config.Database{Type: config.TypeMongoDB, DSN: "mongodb://localhost:27017"}, logger)
	assert.Error(t, err)
}
