package pg

import (
	"database/sql"
)

// newSqlConnection opens a plain lib/pq connection for goose. The gorm pools
// stay untouched while migrations run.
func newSqlConnection(url string) (*sql.DB, error) {
	return sql.Open("postgres", url)
}
