// Package repository wraps the SQL used by the API, the worker and the CLI.
// Queries are built with squirrel and scanned with scany into the structs in
// internal/model.
package repository

import (
	"errors"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	documentTable     = "documents"
	jobTable          = "processing_jobs"
	playerTable       = "players"
	notificationTable = "notifications"
)

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// columns lists the db tags of a struct in field order.
func columns(input any) []string {
	t := reflect.TypeOf(input)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("input must be a pointer to a struct or a struct")
	}
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		out = append(out, tag)
	}
	return out
}

func returning(cols []string) string {
	return "RETURNING " + strings.Join(cols, ", ")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Store bundles the repositories sharing one pool.
type Store struct {
	*DocumentRepository
	*JobRepository
	*PlayerRepository
	*NotificationRepository
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		DocumentRepository:     NewDocumentRepository(pool),
		JobRepository:          NewJobRepository(pool),
		PlayerRepository:       NewPlayerRepository(pool),
		NotificationRepository: NewNotificationRepository(pool),
	}
}
