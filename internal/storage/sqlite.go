package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docchat/internal/errs"
	"github.com/hyperjump/docchat/internal/models"
)

// SQLiteStore implements MetadataStore using SQLite. Timestamps are stored as UTC unix
// nanoseconds so ordering is exact.
type SQLiteStore struct {
	db *sql.DB

	// clock hands out strictly increasing timestamps so turns appended within
	// the same nanosecond still order by creation.
	clockMu sync.Mutex
	last    int64
	now     func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		uploaded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, created_at, id);
	`
	_, err := db.Exec(schema)
	return err
}

// withConn runs fn on a dedicated connection that is released on every exit path.
func (s *SQLiteStore) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %v: %w", err, errs.ErrConnectionFailure)
	}
	defer conn.Close()
	return fn(conn)
}

func (s *SQLiteStore) timestamp() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// InsertDocument implements MetadataStore.
func (s *SQLiteStore) InsertDocument(ctx context.Context, filename string) (*models.Document, error) {
	doc := &models.Document{ID: uuid.NewString(), Filename: filename}
	ts := s.timestamp()
	doc.UploadedAt = fromNanos(ts)

	err := s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO documents (id, filename, uploaded_at) VALUES (?, ?, ?)`,
			doc.ID, doc.Filename, ts,
		)
		return err
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("insert document %q: %w", filename, errs.ErrDuplicateFilename)
	}
	if err != nil {
		return nil, fmt.Errorf("insert document %q: %w", filename, err)
	}
	return doc, nil
}

// DeleteDocument implements MetadataStore.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) getDocument(ctx context.Context, where string, arg string) (*models.Document, error) {
	var (
		doc models.Document
		ts  int64
	)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT id, filename, uploaded_at FROM documents WHERE `+where+` = ?`, arg,
		).Scan(&doc.ID, &doc.Filename, &ts)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", arg, errs.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.UploadedAt = fromNanos(ts)
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.getDocument(ctx, "id", id)
}

// GetDocumentByFilename returns a document by its unique filename.
func (s *SQLiteStore) GetDocumentByFilename(ctx context.Context, filename string) (*models.Document, error) {
	return s.getDocument(ctx, "filename", filename)
}

// ListDocuments implements MetadataStore.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, filename, uploaded_at FROM documents ORDER BY uploaded_at DESC, rowid DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				doc models.Document
				ts  int64
			)
			if err := rows.Scan(&doc.ID, &doc.Filename, &ts); err != nil {
				return err
			}
			doc.UploadedAt = fromNanos(ts)
			docs = append(docs, &doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListDocumentIDs returns the ids of all documents.
func (s *SQLiteStore) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	return ids, nil
}

// CountDocuments returns the number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, "documents")
}

// CountTurns returns the number of conversation turns across all sessions.
func (s *SQLiteStore) CountTurns(ctx context.Context) (int64, error) {
	return s.count(ctx, "conversation_turns")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// AppendTurn implements MetadataStore.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID, question, answer, model string) (*models.ConversationTurn, error) {
	turn := &models.ConversationTurn{SessionID: sessionID, Question: question, Answer: answer, Model: model}
	ts := s.timestamp()
	turn.CreatedAt = fromNanos(ts)

	err := s.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx,
			`INSERT INTO conversation_turns (session_id, question, answer, model, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, question, answer, model, ts,
		)
		if err != nil {
			return err
		}
		turn.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append turn to session %s: %w", sessionID, err)
	}
	return turn, nil
}

// History implements MetadataStore.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]*models.ConversationTurn, error) {
	var turns []*models.ConversationTurn
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, session_id, question, answer, model, created_at
			 FROM conversation_turns WHERE session_id = ?
			 ORDER BY created_at ASC, id ASC`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				t  models.ConversationTurn
				ts int64
			)
			if err := rows.Scan(&t.ID, &t.SessionID, &t.Question, &t.Answer, &t.Model, &ts); err != nil {
				return err
			}
			t.CreatedAt = fromNanos(ts)
			turns = append(turns, &t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("history of session %s: %w", sessionID, err)
	}
	return turns, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
