// Package dbsuite runs a testify suite against a dbinteg kit.
//
// Embed Suite and start the suite with Run instead of suite.Run:
//
//	type OrderSuite struct {
//		dbsuite.Suite
//	}
//
//	func (s *OrderSuite) FixtureFiles() []string { return []string{"customers.sql"} }
//
//	func (s *OrderSuite) DeclareFixtures(d *fixture.Declaration) {
//		d.Mark("TestRefund", "refunded_order.sql")
//	}
//
//	func (s *OrderSuite) TestRefund() { ... }
//
//	func TestOrderSuite(t *testing.T) {
//		dbsuite.Run(t, new(OrderSuite))
//	}
//
// The kit starts in SetupSuite, every test is prepared in SetupTest, and the kit is
// cleaned up in TearDownSuite. A suite that defines its own SetupSuite, SetupTest or
// TearDownSuite must call the embedded one.
package dbsuite

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dbinteg "github.com/dmicanzerofox/db-integ-test-utils"
	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
)

// FixtureFiler is implemented by suites with fixtures loaded before every test.
type FixtureFiler interface {
	FixtureFiles() []string
}

// FixtureDeclarer is implemented by suites that mark fixtures on test methods.
type FixtureDeclarer interface {
	DeclareFixtures(d *fixture.Declaration)
}

// SettingsProvider is implemented by suites that build their own settings.
// Without it, settings come from config.LoadFromEnv.
type SettingsProvider interface {
	DBSettings() (config.Settings, error)
}

// Suite is a testify suite bound to a kit.
type Suite struct {
	suite.Suite

	// Kit is set by SetupSuite.
	Kit *dbinteg.IntegKit

	owner   suite.TestingSuite
	options []dbinteg.Option
}

type integSuite interface {
	suite.TestingSuite
	integ() *Suite
}

func (s *Suite) integ() *Suite { return s }

// Run runs s with testify, passing opts to dbinteg.NewIntegKit.
func Run(t *testing.T, s integSuite, opts ...dbinteg.Option) {
	base := s.integ()
	base.owner = s
	base.options = opts
	suite.Run(t, s)
}

// SetupSuite loads settings, starts the kit and registers the suite's fixtures
// under the suite's test name. Earlier declarations under that name are replaced,
// so a suite can run again against a shared fixture registry.
func (s *Suite) SetupSuite() {
	require := s.Require()
	owner := s.owner
	require.NotNil(owner, "dbsuite: start the suite with dbsuite.Run")

	var (
		settings config.Settings
		err      error
	)
	if p, ok := owner.(SettingsProvider); ok {
		settings, err = p.DBSettings()
	} else {
		settings, err = config.LoadFromEnv()
	}
	require.NoError(err, "dbsuite: loading settings")

	s.Kit, err = dbinteg.NewIntegKit(s.T().Context(), s.T(), settings, s.options...)
	require.NoError(err, "dbsuite: starting kit")

	class := s.T().Name()
	fixtures := s.Kit.Fixtures()
	fixtures.Forget(class)
	require.NoError(fixtures.RegisterMethods(class, testMethods(owner)...))

	var files []string
	if f, ok := owner.(FixtureFiler); ok {
		files = f.FixtureFiles()
	}
	require.NoError(fixtures.Declare(class, files...))

	if d, ok := owner.(FixtureDeclarer); ok {
		decl := fixture.NewDeclaration(class)
		d.DeclareFixtures(decl)
		require.NoError(decl.Apply(fixtures))
	}
}

// SetupTest prepares the database for the test about to run.
func (s *Suite) SetupTest() {
	s.Require().NotNil(s.Kit, "dbsuite: kit not started")
	s.Require().NoError(s.Kit.PrepareTest(s.T().Context(), s.T().Name()))
}

// TearDownSuite cleans up the kit.
func (s *Suite) TearDownSuite() {
	if s.Kit == nil {
		return
	}
	s.NoError(s.Kit.Cleanup())
}

// testMethods lists the methods testify runs as tests.
func testMethods(ts suite.TestingSuite) []string {
	typ := reflect.TypeOf(ts)
	var methods []string
	for i := range typ.NumMethod() {
		if name := typ.Method(i).Name; strings.HasPrefix(name, "Test") {
			methods = append(methods, name)
		}
	}
	return methods
}
