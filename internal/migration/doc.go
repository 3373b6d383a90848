/*
Package migration versions the schema of the sql results backend with
golang-migrate.

The migrations are embedded per dialect (postgres, mysql, sqlite) and run
over a dedicated connection. CLI formats the migrator's operations for the
"flowstream migrate" command; the results store applies pending migrations
itself when results.auto_migrate is set.
*/
package migration
