/*
Package database opens GORM connections for the sql results backend and
manages their connection pool.

# Overview

Open picks a dialector by driver name (sqlite, postgres or mysql) and
PoolManager wraps the resulting *gorm.DB: pool sizing, a background ping
that logs failures, and transactions with bounded retry for deadlocks and
serialization failures.
*/
package database
