package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deck-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_sessions (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	filename       TEXT NOT NULL,
	doc_stats      TEXT,
	workbook_stats TEXT,
	sheet_stats    TEXT,
	token_usage    TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extracted_values (
	session_id TEXT NOT NULL REFERENCES extraction_sessions(id),
	value_id   TEXT NOT NULL,
	ord        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, value_id)
);

CREATE TABLE IF NOT EXISTS source_values (
	session_id     TEXT NOT NULL REFERENCES extraction_sessions(id),
	source_file    TEXT NOT NULL,
	cell_reference TEXT NOT NULL,
	ord            INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	PRIMARY KEY (session_id, source_file, cell_reference)
);

CREATE TABLE IF NOT EXISTS audit_sessions (
	id                TEXT PRIMARY KEY,
	pdf_session_id    TEXT NOT NULL REFERENCES extraction_sessions(id),
	excel_session_ids TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	report            TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_extraction_sessions_kind ON extraction_sessions(kind);
CREATE INDEX IF NOT EXISTS idx_extracted_values_session ON extracted_values(session_id, ord);
CREATE INDEX IF NOT EXISTS idx_source_values_session ON source_values(session_id, ord);
CREATE INDEX IF NOT EXISTS idx_audit_sessions_status ON audit_sessions(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveExtractionSession(ctx context.Context, session *model.ExtractionSession) error {
	docStats, wbStats, sheetStats, usage, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save session")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO extraction_sessions (id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, string(session.Kind), session.Filename, docStats, wbStats, sheetStats, usage, session.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert session %s", session.ID)
	}

	for i, v := range session.Values {
		payload, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal extracted value")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extracted_values (session_id, value_id, ord, payload) VALUES (?, ?, ?, ?)`,
			session.ID, v.ID, i, string(payload),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert value %s", v.ID)
		}
	}

	for i, src := range session.Sources {
		payload, err := json.Marshal(src)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source value")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_values (session_id, source_file, cell_reference, ord, payload) VALUES (?, ?, ?, ?, ?)`,
			session.ID, src.SourceFile, src.CellReference, i, string(payload),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert source %s", src.Key())
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save session")
}

func (s *SQLiteStore) GetExtractionSession(ctx context.Context, id string) (*model.ExtractionSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at
		 FROM extraction_sessions WHERE id = ?`, id,
	)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM extracted_values WHERE session_id = ? ORDER BY ord`, id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query values")
	}
	session.Values, err = collectPayloads[model.ExtractedValue](rows)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT payload FROM source_values WHERE session_id = ? ORDER BY ord`, id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query sources")
	}
	session.Sources, err = collectPayloads[model.SourceValue](rows)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (s *SQLiteStore) ListExtractionSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error) {
	query := `SELECT id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at
	          FROM extraction_sessions WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.ExtractionSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) UpdateExtractedValue(ctx context.Context, sessionID string, value model.ExtractedValue) error {
	value.UserModified = true
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal value update")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE extracted_values SET payload = ? WHERE session_id = ? AND value_id = ?`,
		string(payload), sessionID, value.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update value %s", value.ID)
	}
	return checkRowsAffected(res, "extracted value", value.ID)
}

func (s *SQLiteStore) UpdateSourceValue(ctx context.Context, sessionID string, value model.SourceValue) error {
	value.UserModified = true
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source update")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE source_values SET payload = ? WHERE session_id = ? AND source_file = ? AND cell_reference = ?`,
		string(payload), sessionID, value.SourceFile, value.CellReference,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", value.Key())
	}
	return checkRowsAffected(res, "source value", value.Key())
}

// PatchExtractedValue merges reviewer corrections into the stored payload
// with a single json_set UPDATE, so concurrent edits to different fields of
// the same value cannot clobber each other.
func (s *SQLiteStore) PatchExtractedValue(ctx context.Context, sessionID, valueID string, patch model.ValuePatch) (*model.ExtractedValue, error) {
	expr := "json_set(payload, '$.user_modified', json('true')"
	var args []any
	if patch.RawValue != nil {
		expr += ", '$.raw_value', ?"
		args = append(args, *patch.RawValue)
	}
	if patch.NormalizedValue != nil {
		expr += ", '$.normalized_value', ?"
		args = append(args, *patch.NormalizedValue)
	}
	if patch.DataType != nil {
		expr += ", '$.data_type', ?"
		args = append(args, string(*patch.DataType))
	}
	if patch.SemanticMeaning != nil {
		expr += ", '$.business_context.semantic_meaning', ?"
		args = append(args, *patch.SemanticMeaning)
	}
	expr += ")"
	args = append(args, sessionID, valueID)

	var payload string
	err := s.db.QueryRowContext(ctx,
		`UPDATE extracted_values SET payload = `+expr+` WHERE session_id = ? AND value_id = ? RETURNING payload`,
		args...,
	).Scan(&payload)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "extracted value %s in session %s", valueID, sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: patch value %s", valueID)
	}

	var value model.ExtractedValue
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal patched value")
	}
	return &value, nil
}

func (s *SQLiteStore) CreateAuditSession(ctx context.Context, pdfSessionID string, excelSessionIDs []string) (*model.AuditSession, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	idsJSON, err := json.Marshal(excelSessionIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal excel session ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_sessions (id, pdf_session_id, excel_session_ids, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, pdfSessionID, string(idsJSON), string(model.AuditStatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert audit session")
	}

	return &model.AuditSession{
		ID:              id,
		PDFSessionID:    pdfSessionID,
		ExcelSessionIDs: excelSessionIDs,
		Status:          model.AuditStatusPending,
		CreatedAt:       now,
	}, nil
}

func (s *SQLiteStore) UpdateAuditStatus(ctx context.Context, id string, status model.AuditStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_sessions SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audit status %s", id)
	}
	return checkRowsAffected(res, "audit session", id)
}

func (s *SQLiteStore) CompleteAuditSession(ctx context.Context, id string, report *model.AuditReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_sessions SET status = ?, report = ?, completed_at = ? WHERE id = ?`,
		string(model.AuditStatusCompleted), string(reportJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete audit session %s", id)
	}
	return checkRowsAffected(res, "audit session", id)
}

func (s *SQLiteStore) GetAuditSession(ctx context.Context, id string) (*model.AuditSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pdf_session_id, excel_session_ids, status, report, created_at, completed_at
		 FROM audit_sessions WHERE id = ?`, id,
	)
	return scanAuditSession(row)
}

func (s *SQLiteStore) ListAuditSessions(ctx context.Context, limit int) ([]model.AuditSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pdf_session_id, excel_session_ids, status, report, created_at, completed_at
		 FROM audit_sessions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit sessions")
	}
	defer rows.Close()

	var sessions []model.AuditSession
	for rows.Next() {
		sess, err := scanAuditSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list audit sessions iterate")
}
