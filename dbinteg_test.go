package dbinteg_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dbinteg "github.com/dmicanzerofox/db-integ-test-utils"
	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/handlertest"
)

func recorderSettings() config.Settings {
	return config.Settings{
		Database:       config.Database{Type: config.TypeSQLite, Path: "unused.db"},
		DestroyScripts: []string{"d1.sql", "d2.sql"},
		CreateScripts:  []string{"c1.sql", "c2.sql"},
		ResetDBs:       []string{"db1", "db2"},
		FixturesDir:    "fixtures",
	}
}

func newRecorderKit(t *testing.T, settings config.Settings, opts ...dbinteg.Option) (*dbinteg.IntegKit, *handlertest.Recorder) {
	t.Helper()
	rec := handlertest.NewRecorder()
	reg := handler.NewRegistry().MustRegister(config.TypeSQLite, handlertest.Factory(rec))
	opts = append([]dbinteg.Option{dbinteg.WithRegistry(reg), dbinteg.WithLogger(zaptest.NewLogger(t))}, opts...)
	kit, err := dbinteg.NewIntegKit(context.Background(), t, settings, opts...)
	require.NoError(t, err)
	return kit, rec
}

func TestNewIntegKit_DestroyThenCreateInOrder(t *testing.T) {
	_, rec := newRecorderKit(t, recorderSettings())
	assert.Equal(t, []string{
		"destroy:d1.sql", "destroy:d2.sql",
		"initialize:c1.sql", "initialize:c2.sql",
	}, rec.Calls())
}

func TestNewIntegKit_InvalidSettings(t *testing.T) {
	rec := handlertest.NewRecorder()
	reg := handler.NewRegistry().MustRegister(config.TypeSQLite, handlertest.Factory(rec))

	settings := recorderSettings()
	settings.Database.Type = "oracle"
	_, err := dbinteg.NewIntegKit(context.Background(), t, settings, dbinteg.WithRegistry(reg))
	assert.ErrorIs(t, err, config.ErrInvalidSettings)
	assert.Empty(t, rec.Calls())
}

func TestNewIntegKit_UnsupportedDatabase(t *testing.T) {
	rec := handlertest.NewRecorder()
	reg := handler.NewRegistry().MustRegister(config.TypeSQLite, handlertest.Factory(rec))

	settings := recorderSettings()
	settings.Database = config.Database{Type: config.TypeMongoDB, DSN: "mongodb://localhost", Name: "app"}
	_, err := dbinteg.NewIntegKit(context.Background(), t, settings, dbinteg.WithRegistry(reg))
	assert.ErrorIs(t, err, handler.ErrUnsupportedDatabase)
	assert.Empty(t, rec.Calls(), "no script runs when the type has no handler")
}

func TestNewIntegKit_ScriptFailureClosesHandler(t *testing.T) {
	rec := handlertest.NewRecorder()
	errBoom := errors.New("boom")
	rec.FailOn(handlertest.OpInitialize, "c1.sql", errBoom)
	reg := handler.NewRegistry().MustRegister(config.TypeSQLite, handlertest.Factory(rec))

	_, err := dbinteg.NewIntegKit(context.Background(), t, recorderSettings(),
		dbinteg.WithRegistry(reg), dbinteg.WithLogger(zaptest.NewLogger(t)))
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "c1.sql")
	assert.Equal(t, []string{
		"destroy:d1.sql", "destroy:d2.sql",
		"initialize:c1.sql",
		"close",
	}, rec.Calls())
	assert.True(t, rec.Closed())
}

func TestNewIntegKit_SettingsAreCopied(t *testing.T) {
	settings := recorderSettings()
	kit, rec := newRecorderKit(t, settings)
	settings.ResetDBs[0] = "mutated"
	rec.ClearCalls()

	require.NoError(t, kit.Fixtures().Declare("TestX", "a.sql"))
	require.NoError(t, kit.PrepareTest(context.Background(), "TestX"))
	assert.Equal(t, []string{"db1", "db2"}, kit.Settings().ResetDBs)
	assert.Equal(t, []string{"db1,db2"}, rec.CallsOf(handlertest.OpReset))
}

func TestPrepareTest_ResetThenClassThenMethodFixtures(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "base.sql"))
	require.NoError(t, kit.Fixtures().Mark("TestSuite", "TestOne", "extra.sql"))
	rec.ClearCalls()

	require.NoError(t, kit.PrepareTest(context.Background(), "TestSuite/TestOne"))
	assert.Equal(t, []string{
		"reset:db1,db2",
		"load:fixtures/base.sql",
		"load:fixtures/extra.sql",
	}, rec.Calls())
}

func TestPrepareTest_IsIdempotent(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "base.sql"))
	require.NoError(t, kit.Fixtures().Mark("TestSuite", "TestOne", "extra.sql"))

	ctx := context.Background()
	require.NoError(t, kit.PrepareTest(ctx, "TestSuite/TestOne"))
	first := rec.Loaded()
	require.NoError(t, kit.PrepareTest(ctx, "TestSuite/TestOne"))
	assert.Equal(t, first, rec.Loaded())
	assert.Equal(t, []string{"fixtures/base.sql", "fixtures/extra.sql"}, rec.Loaded())
}

func TestPrepareTest_MethodFixtureDoesNotLeakIntoOtherTests(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "base.sql"))
	require.NoError(t, kit.Fixtures().Mark("TestSuite", "TestOne", "extra.sql"))

	ctx := context.Background()
	require.NoError(t, kit.PrepareTest(ctx, "TestSuite/TestOne"))
	require.NoError(t, kit.PrepareTest(ctx, "TestSuite/TestTwo"))
	assert.Equal(t, []string{"fixtures/base.sql"}, rec.Loaded())
}

func TestPrepareTest_FirstLoadFailureStops(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "a.sql", "b.sql", "c.sql"))
	errBad := errors.New("bad fixture")
	rec.FailOn(handlertest.OpLoad, "fixtures/b.sql", errBad)
	rec.ClearCalls()

	err := kit.PrepareTest(context.Background(), "TestSuite/TestAny")
	require.ErrorIs(t, err, errBad)
	assert.Equal(t, []string{"fixtures/a.sql", "fixtures/b.sql"}, rec.CallsOf(handlertest.OpLoad))
}

func TestPrepareTest_ResetFailureLoadsNothing(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "a.sql"))
	errReset := errors.New("reset failed")
	rec.FailOn(handlertest.OpReset, "db1,db2", errReset)

	err := kit.PrepareTest(context.Background(), "TestSuite")
	require.ErrorIs(t, err, errReset)
	assert.Empty(t, rec.CallsOf(handlertest.OpLoad))
}

func TestPrepareTest_ResolutionErrors(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestEmpty"))
	ctx := context.Background()

	err := kit.PrepareTest(ctx, "TestEmpty/TestOne")
	assert.ErrorIs(t, err, fixture.ErrNoFixturesDeclared)

	err = kit.PrepareTest(ctx, "TestUnknown/TestOne")
	assert.ErrorIs(t, err, fixture.ErrTestIntrospection)

	err = kit.PrepareTest(ctx, "")
	assert.ErrorIs(t, err, fixture.ErrTestIntrospection)

	assert.Empty(t, rec.CallsOf(handlertest.OpLoad))
}

func TestPrepareTest_SharedFixtureRegistry(t *testing.T) {
	reg := fixture.NewRegistry()
	require.NoError(t, reg.Declare("TestShared", "shared.sql"))
	kit, rec := newRecorderKit(t, recorderSettings(), dbinteg.WithFixtureRegistry(reg))

	require.NoError(t, kit.PrepareTest(context.Background(), "TestShared/TestA"))
	assert.Same(t, reg, kit.Fixtures())
	assert.Equal(t, []string{"fixtures/shared.sql"}, rec.Loaded())
}

func TestCleanup_ClosesOnceAndStopsKit(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare("TestSuite", "a.sql"))

	require.NoError(t, kit.Cleanup())
	require.NoError(t, kit.Cleanup())
	assert.Equal(t, []string{""}, rec.CallsOf(handlertest.OpClose))
	assert.Nil(t, kit.Handler())
	assert.ErrorIs(t, kit.PrepareTest(context.Background(), "TestSuite"), dbinteg.ErrKitClosed)
}

func TestMustPrepareTest_UsesTestName(t *testing.T) {
	kit, rec := newRecorderKit(t, recorderSettings())
	require.NoError(t, kit.Fixtures().Declare(t.Name(), "base.sql"))
	require.NoError(t, kit.Fixtures().Mark(t.Name(), "Refund", "refund.sql"))

	t.Run("Refund", func(t *testing.T) {
		kit.MustPrepareTest(t)
		assert.Equal(t, []string{"fixtures/base.sql", "fixtures/refund.sql"}, rec.Loaded())
	})
}

func TestDefaultRegistry(t *testing.T) {
	reg := dbinteg.DefaultRegistry()
	assert.Equal(t, []string{config.TypeMongoDB, config.TypePostgres, config.TypeSQLite}, reg.Types())
	for _, typ := range config.SupportedTypes {
		assert.True(t, reg.Supports(typ), typ)
	}
}
