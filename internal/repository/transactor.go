package repository

import (
	"celestra-auth/internal/database/postgres"

	"github.com/jmoiron/sqlx"
)

// Transactor lets services group several repository writes into one
// data-store transaction. Repositories rebind onto the transaction with
// WithTx; a nil tx means "run against the plain connection", which keeps
// in-memory fakes trivial.
type Transactor interface {
	Transact(fn func(tx *sqlx.Tx) error) error
}

type sqlTransactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) Transact(fn func(tx *sqlx.Tx) error) error {
	return postgres.Transact(t.db, fn)
}
