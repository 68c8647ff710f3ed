package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Inflectra/spira-gitlab-datasync/core/db"
)

type Stores struct {
	pool *pgxpool.Pool
}

func NewStores(database *db.DB) *Stores {
	return &Stores{pool: database.Pool}
}

func (s *Stores) Runs() RunStore {
	return newRunStore(s.pool)
}
