/*
Package dbinteg gives integration tests a clean, reproducible database before every
test.

A kit is started once per suite. It opens a handler for the database type named in
the settings and runs the destroy scripts, then the create scripts. Before each test,
PrepareTest empties the configured databases and loads the fixtures declared for that
test: the suite's fixture files first, then the one fixture marked on the test method.

Bundled handlers live in handler/postgres, handler/sqlite and handler/mongodb. The
dbsuite package wires all of this into a testify suite.

Example:

	func TestOrders(t *testing.T) {
		settings, err := config.LoadFromEnv()
		require.NoError(t, err)

		kit, err := dbinteg.NewIntegKit(context.Background(), t, settings)
		require.NoError(t, err)

		require.NoError(t, kit.Fixtures().Declare("TestOrders", "users.sql"))
		require.NoError(t, kit.Fixtures().Mark("TestOrders", "Refund", "orders.sql"))

		t.Run("Refund", func(t *testing.T) {
			kit.MustPrepareTest(t) // loads users.sql, then orders.sql
			// ...
		})
	}
*/
package dbinteg
