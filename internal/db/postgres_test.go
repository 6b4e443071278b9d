package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/newsletter-delivery/internal/db"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/news?sslmode=disable": "pgx5://u:p@localhost:5432/news?sslmode=disable",
		"postgresql://u:p@db/news":                           "pgx5://u:p@db/news",
		"u:p@db/news":                                        "pgx5://u:p@db/news",
	}
	for in, want := range tests {
		assert.Equal(t, want, db.MigrationURL(in), in)
	}
}
