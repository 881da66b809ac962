// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the relational Build/Project/Secret Store
// (S1) with jmoiron/sqlx over Postgres, MySQL or SQLite.
package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	// database/sql drivers, registered by side effect import. The
	// relational store supports all three the way the teacher's go.mod
	// declares support for all three.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store bundles a *sqlx.DB with the driver name, since a couple of
// queries (upsert, autoincrement id retrieval) are spelled differently
// across Postgres/MySQL/SQLite.
type Store struct {
	DB     *sqlx.DB
	Driver string
}

// Open connects to driver (postgres|mysql|sqlite3) at dsn and verifies
// connectivity.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, Driver: driver}, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any returned error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// rebind adapts a query written with `?` placeholders to the driver's
// native placeholder syntax (sqlx.Rebind already does this per-DB, this
// helper just documents the call site).
func (s *Store) rebind(query string) string {
	return s.DB.Rebind(query)
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
