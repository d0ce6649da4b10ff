package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

const (
	selectDocument = `SELECT body FROM documents WHERE collection = $1 AND id = $2`

	lockDocument = selectDocument + ` FOR UPDATE`

	upsertDocument = `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`

	updateDocument = `UPDATE documents SET body = $3, updated_at = NOW() WHERE collection = $1 AND id = $2`

	deleteDocument = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

// DocumentStore implements store.Store on the documents table.
type DocumentStore struct {
	conn *Connection
	log  *logger.Logger
}

var _ store.Store = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore on an open connection.
func NewDocumentStore(conn *Connection, log *logger.Logger) *DocumentStore {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentStore{conn: conn, log: log.With(logger.Component("postgres_store"))}
}

// Get returns the document or store.ErrNotFound.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	return getDocument(ctx, s.conn.Pool(), selectDocument, collection, id)
}

// Set writes a whole document. A merge locks the existing row first.
func (s *DocumentStore) Set(ctx context.Context, collection, id string, doc store.Document, opts ...store.SetOption) error {
	normalized, err := store.Encode(doc)
	if err != nil {
		return err
	}
	normalized[store.IDField] = id

	if !store.ApplySetOptions(opts).Merge {
		return writeDocument(ctx, s.conn.Pool(), upsertDocument, collection, id, normalized)
	}

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		existing, err := getDocument(ctx, tx, lockDocument, collection, id)
		switch {
		case err == nil:
			store.MergeInto(existing, normalized)
			normalized = existing
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return writeDocument(ctx, tx, upsertDocument, collection, id, normalized)
	})
}

// Update locks the row, checks preconditions and applies ops in process,
// so semantics match the in-memory store exactly.
func (s *DocumentStore) Update(ctx context.Context, collection, id string, ops []store.Op, conds ...store.Precondition) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := getDocument(ctx, tx, lockDocument, collection, id)
		if err != nil {
			return err
		}
		if err := store.Check(doc, conds); err != nil {
			return err
		}
		if err := store.Apply(doc, ops); err != nil {
			return err
		}
		return writeDocument(ctx, tx, updateDocument, collection, id, doc)
	})
}

// Query translates q into jsonb predicates.
func (s *DocumentStore) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	out := make([]store.Document, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", q.Collection, err)
		}
		doc, err := decodeBody(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", q.Collection, err)
	}
	return out, nil
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.conn.Pool().Exec(ctx, deleteDocument, collection, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getDocument(ctx context.Context, q Querier, sql, collection, id string) (store.Document, error) {
	var raw []byte
	if err := q.QueryRow(ctx, sql, collection, id).Scan(&raw); err != nil {
		if IsNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %s/%s: %w", collection, id, err)
	}
	return decodeBody(raw)
}

func writeDocument(ctx context.Context, q Querier, sql, collection, id string, doc store.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: encode %s/%s: %w", collection, id, err)
	}
	if _, err := q.Exec(ctx, sql, collection, id, raw); err != nil {
		return fmt.Errorf("postgres: write %s/%s: %w", collection, id, err)
	}
	return nil
}

func decodeBody(raw []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode body: %w", err)
	}
	return doc, nil
}
