package dbsuite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	dbinteg "github.com/dmicanzerofox/db-integ-test-utils"
	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/dbsuite"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/handlertest"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/sqlite"
)

type recordedSuite struct {
	dbsuite.Suite
	rec *handlertest.Recorder
}

func (s *recordedSuite) DBSettings() (config.Settings, error) {
	return config.Settings{
		Database:       config.Database{Type: config.TypeSQLite, Path: "unused.db"},
		DestroyScripts: []string{"destroy.sql"},
		CreateScripts:  []string{"create.sql"},
		ResetDBs:       []string{"main", "audit"},
		FixturesDir:    "fx",
	}, nil
}

func (s *recordedSuite) FixtureFiles() []string {
	return []string{"base.sql", "more.sql"}
}

func (s *recordedSuite) DeclareFixtures(d *fixture.Declaration) {
	d.Mark("TestMarked", "marked.sql")
}

func (s *recordedSuite) TestMarked() {
	s.Equal([]string{"fx/base.sql", "fx/more.sql", "fx/marked.sql"}, s.rec.Loaded())
	s.Equal([]string{"main,audit"}, lastReset(s.rec))
}

func (s *recordedSuite) TestUnmarked() {
	s.Equal([]string{"fx/base.sql", "fx/more.sql"}, s.rec.Loaded())
}

func (s *recordedSuite) TestScriptsRanOnce() {
	s.Equal([]string{"destroy.sql"}, s.rec.CallsOf(handlertest.OpDestroy))
	s.Equal([]string{"create.sql"}, s.rec.CallsOf(handlertest.OpInitialize))
}

func lastReset(rec *handlertest.Recorder) []string {
	resets := rec.CallsOf(handlertest.OpReset)
	return resets[len(resets)-1:]
}

func runRecordedSuite(t *testing.T, opts ...dbinteg.Option) *handlertest.Recorder {
	t.Helper()
	rec := handlertest.NewRecorder()
	reg := handler.NewRegistry().MustRegister(config.TypeSQLite, handlertest.Factory(rec))

	opts = append([]dbinteg.Option{
		dbinteg.WithRegistry(reg),
		dbinteg.WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	dbsuite.Run(t, &recordedSuite{rec: rec}, opts...)
	return rec
}

func TestRecordedSuite(t *testing.T) {
	rec := runRecordedSuite(t)

	assert.True(t, rec.Closed(), "TearDownSuite closes the handler")
	assert.Len(t, rec.CallsOf(handlertest.OpReset), 3, "one reset per test")
}

func TestRecordedSuite_AsSubtest(t *testing.T) {
	for _, name := range []string{"first", "second"} {
		t.Run(name, func(t *testing.T) {
			rec := runRecordedSuite(t)
			assert.Len(t, rec.CallsOf(handlertest.OpLoad), 7, "every test loaded its fixtures")
			assert.True(t, rec.Closed())
		})
	}
}

func TestRecordedSuite_RerunWithSharedFixtureRegistry(t *testing.T) {
	fixtures := fixture.NewRegistry()

	for range 2 {
		rec := runRecordedSuite(t, dbinteg.WithFixtureRegistry(fixtures))
		assert.Len(t, rec.CallsOf(handlertest.OpLoad), 7, "suite fixtures are not declared twice")
		assert.False(t, t.Failed())
	}
}

type shopSuite struct {
	dbsuite.Suite
	dbPath string
}

func (s *shopSuite) DBSettings() (config.Settings, error) {
	settings, err := config.LoadFile(filepath.Join("..", "testdata", "sqlite", "settings.hcl"))
	if err != nil {
		return settings, err
	}
	for i, p := range settings.DestroyScripts {
		settings.DestroyScripts[i] = filepath.Join("..", p)
	}
	for i, p := range settings.CreateScripts {
		settings.CreateScripts[i] = filepath.Join("..", p)
	}
	settings.FixturesDir = filepath.Join("..", settings.FixturesDir)
	settings.Database.Path = s.dbPath
	return settings, nil
}

func (s *shopSuite) FixtureFiles() []string {
	return []string{"customers.sql", "orders.sql"}
}

func (s *shopSuite) DeclareFixtures(d *fixture.Declaration) {
	d.Mark("TestRefunds", "refunded_order.sql")
}

func (s *shopSuite) db() *sqlite.Handler {
	h, ok := s.Kit.Handler().(*sqlite.Handler)
	s.Require().True(ok)
	return h
}

func (s *shopSuite) count(query string) int {
	var n int
	s.Require().NoError(s.db().DB().QueryRow(query).Scan(&n))
	return n
}

func (s *shopSuite) TestOrders() {
	s.Equal(3, s.count("SELECT count(*) FROM orders"))
	// Rows written by a test do not survive into the next one.
	_, err := s.db().DB().Exec("INSERT INTO customers (email) VALUES ('temp@example.com')")
	s.Require().NoError(err)
}

func (s *shopSuite) TestRefunds() {
	s.Equal(4, s.count("SELECT count(*) FROM orders"))
	s.Equal(1, s.count("SELECT count(*) FROM orders WHERE refunded = 1"))
}

func (s *shopSuite) TestZCustomersAreClean() {
	s.Equal(2, s.count("SELECT count(*) FROM customers"))
}

func TestShopSuite(t *testing.T) {
	dbsuite.Run(t, &shopSuite{dbPath: filepath.Join(t.TempDir(), "shop.db")})
}
