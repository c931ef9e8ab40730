// Package postgres implements the record store contract on PostgreSQL via
// pgx. When a replica connection is configured reads run against it unless
// the query is marked read-after-write-sensitive.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/config"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// Store is a PostgreSQL-backed record store.
type Store struct {
	writer   *pgxpool.Pool
	reader   *pgxpool.Pool
	registry *collection.Registry
}

// Connect builds the connection pools from configuration.
func Connect(ctx context.Context, cfg config.DatabaseConfig, registry *collection.Registry) (*Store, error) {
	writer, err := newPool(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{writer: writer, reader: writer, registry: registry}

	if cfg.ReplicaURL != "" {
		reader, err := newPool(ctx, cfg.ReplicaURL, cfg.MaxConns)
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to connect to replica: %w", err)
		}
		s.reader = reader
		log.Info().Msg("Read replica configured; sensitive lookups route to primary")
	}
	return s, nil
}

func newPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Close releases both pools.
func (s *Store) Close() {
	if s.reader != s.writer {
		s.reader.Close()
	}
	s.writer.Close()
}

// Capabilities reports postgres support: full-text search, and replicated
// reads when a replica pool is configured.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{
		FullTextSearch:  true,
		ReplicatedReads: s.reader != s.writer,
	}
}

func (s *Store) pool(usePrimary bool) *pgxpool.Pool {
	if usePrimary {
		return s.writer
	}
	return s.reader
}

func (s *Store) col(name string) (*collection.Collection, error) {
	c, ok := s.registry.Get(name)
	if !ok {
		return nil, &store.ConfigurationError{Reason: "unknown collection: " + name}
	}
	return c, nil
}

// Find executes the spec and attaches requested relations with one batched
// query per relation.
func (s *Store) Find(ctx context.Context, collectionName string, spec store.FindSpec) ([]store.Record, error) {
	col, err := s.col(collectionName)
	if err != nil {
		return nil, err
	}

	sql, args, err := NewBuilder(collectionName, col).
		WithColumns(spec.Columns).
		WithWhere(spec.Where).
		WithOrder(spec.Order).
		WithLimit(spec.Take).
		WithOffset(spec.Skip).
		BuildSelect()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool(spec.UsePrimary).Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapPgError(collectionName, err)
	}
	records, err := rowsToRecords(rows)
	if err != nil {
		return nil, wrapPgError(collectionName, err)
	}

	if len(spec.Relations) > 0 {
		if err := s.attachRelations(ctx, col, records, spec.Relations, spec.UsePrimary); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Count executes the spec's condition tree as a COUNT.
func (s *Store) Count(ctx context.Context, collectionName string, spec store.FindSpec) (int64, error) {
	col, err := s.col(collectionName)
	if err != nil {
		return 0, err
	}
	sql, args, err := NewBuilder(collectionName, col).WithWhere(spec.Where).BuildCount()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.pool(spec.UsePrimary).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, wrapPgError(collectionName, err)
	}
	return count, nil
}

// Save persists records in one round trip using a pgx batch of upserts,
// returning the persisted rows in input order.
func (s *Store) Save(ctx context.Context, collectionName string, records []store.Record) ([]store.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	col, err := s.col(collectionName)
	if err != nil {
		return nil, err
	}
	pk := col.PrimaryKeyColumn()

	batch := &pgx.Batch{}
	for _, rec := range records {
		sql, args := NewBuilder(collectionName, col).BuildUpsert(rec, pk)
		if sql == "" {
			return nil, &store.ConflictError{Collection: collectionName, Reason: "empty record in save"}
		}
		batch.Queue(sql, args...)
	}

	results := s.writer.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	saved := make([]store.Record, 0, len(records))
	for range records {
		rows, err := results.Query()
		if err != nil {
			return nil, wrapPgError(collectionName, err)
		}
		recs, err := rowsToRecords(rows)
		if err != nil {
			return nil, wrapPgError(collectionName, err)
		}
		if len(recs) > 0 {
			saved = append(saved, recs[0])
		}
	}
	return saved, nil
}

// Remove physically deletes matching rows.
func (s *Store) Remove(ctx context.Context, collectionName string, where store.WhereTree) (int64, error) {
	col, err := s.col(collectionName)
	if err != nil {
		return 0, err
	}
	sql, args, err := NewBuilder(collectionName, col).WithWhere(where).BuildDelete()
	if err != nil {
		return 0, err
	}
	tag, err := s.writer.Exec(ctx, sql, args...)
	if err != nil {
		return 0, wrapPgError(collectionName, err)
	}
	return tag.RowsAffected(), nil
}

// attachRelations loads each requested relation with a single ANY() query
// over the parent key set and distributes rows onto the parents.
func (s *Store) attachRelations(ctx context.Context, col *collection.Collection, records []store.Record, tree store.RelationTree, usePrimary bool) error {
	if len(records) == 0 {
		return nil
	}
	for name, node := range tree {
		rel, ok := col.Relations[name]
		if !ok {
			return &store.ConfigurationError{
				Reason: fmt.Sprintf("collection %s has no relation %s", col.Name, name),
			}
		}
		target, err := s.col(rel.Target)
		if err != nil {
			return err
		}
		localKey := rel.LocalKey
		if localKey == "" {
			localKey = col.PrimaryKeyColumn()
		}

		keys := make([]string, 0, len(records))
		for _, rec := range records {
			keys = append(keys, fmt.Sprint(rec[localKey]))
		}

		sql := fmt.Sprintf(
			"SELECT * FROM %s.%s WHERE %s = ANY($1)",
			quoteIdentifier("public"), quoteIdentifier(rel.Target),
			quoteIdentifier(rel.ForeignKey),
		)
		rows, err := s.pool(usePrimary).Query(ctx, sql, keys)
		if err != nil {
			return wrapPgError(rel.Target, err)
		}
		related, err := rowsToRecords(rows)
		if err != nil {
			return wrapPgError(rel.Target, err)
		}

		index := make(map[string][]store.Record)
		for _, r := range related {
			key := fmt.Sprint(r[rel.ForeignKey])
			index[key] = append(index[key], r)
		}

		var attached []store.Record
		for _, rec := range records {
			matches := index[fmt.Sprint(rec[localKey])]
			if rel.HasMany {
				rec[name] = matches
				attached = append(attached, matches...)
			} else if len(matches) > 0 {
				rec[name] = matches[0]
				attached = append(attached, matches[0])
			} else {
				rec[name] = nil
			}
		}

		if nested, ok := node.(store.RelationTree); ok {
			if err := s.attachRelations(ctx, target, attached, nested, usePrimary); err != nil {
				return err
			}
		}
	}
	return nil
}

// rowsToRecords materializes pgx rows into generic records.
func rowsToRecords(rows pgx.Rows) ([]store.Record, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var records []store.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(store.Record, len(fields))
		for i, field := range fields {
			rec[field.Name] = values[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// wrapPgError maps constraint violations (class 23) onto the conflict
// error type; everything else passes through.
func wrapPgError(collectionName string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &store.ConflictError{Collection: collectionName, Reason: pgErr.Message}
	}
	return err
}
