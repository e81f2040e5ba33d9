package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deck-audit/internal/db"
	"github.com/sells-group/deck-audit/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths: session reads and reviewer edits.
var preparedStatements = map[string]string{
	"get_session":       `SELECT id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at FROM extraction_sessions WHERE id = $1`,
	"get_values":        `SELECT payload FROM extracted_values WHERE session_id = $1 ORDER BY ord`,
	"get_sources":       `SELECT payload FROM source_values WHERE session_id = $1 ORDER BY ord`,
	"update_value":      `UPDATE extracted_values SET payload = $1 WHERE session_id = $2 AND value_id = $3`,
	"update_source":     `UPDATE source_values SET payload = $1 WHERE session_id = $2 AND source_file = $3 AND cell_reference = $4`,
	"get_audit_session": `SELECT id, pdf_session_id, excel_session_ids, status, report, created_at, completed_at FROM audit_sessions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// newPostgresWithPool wires an existing pool, used by tests.
func newPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_sessions (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind           TEXT NOT NULL,
	filename       TEXT NOT NULL,
	doc_stats      JSONB,
	workbook_stats JSONB,
	sheet_stats    JSONB,
	token_usage    JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracted_values (
	session_id TEXT NOT NULL REFERENCES extraction_sessions(id),
	value_id   TEXT NOT NULL,
	ord        INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (session_id, value_id)
);

CREATE TABLE IF NOT EXISTS source_values (
	session_id     TEXT NOT NULL REFERENCES extraction_sessions(id),
	source_file    TEXT NOT NULL,
	cell_reference TEXT NOT NULL,
	ord            INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	PRIMARY KEY (session_id, source_file, cell_reference)
);

CREATE TABLE IF NOT EXISTS audit_sessions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	pdf_session_id    TEXT NOT NULL REFERENCES extraction_sessions(id),
	excel_session_ids JSONB NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	report            JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_extraction_sessions_kind ON extraction_sessions(kind);
CREATE INDEX IF NOT EXISTS idx_extracted_values_session ON extracted_values(session_id, ord);
CREATE INDEX IF NOT EXISTS idx_source_values_session ON source_values(session_id, ord);
CREATE INDEX IF NOT EXISTS idx_audit_sessions_status ON audit_sessions(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) SaveExtractionSession(ctx context.Context, session *model.ExtractionSession) error {
	docStats, wbStats, sheetStats, usage, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_sessions (id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, string(session.Kind), session.Filename,
		docStats, wbStats, sheetStats, usage, session.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert session %s", session.ID)
	}

	if len(session.Values) > 0 {
		rows := make([][]any, 0, len(session.Values))
		for i, v := range session.Values {
			payload, merr := json.Marshal(v)
			if merr != nil {
				return eris.Wrap(merr, "postgres: marshal extracted value")
			}
			rows = append(rows, []any{session.ID, v.ID, i, string(payload)})
		}
		if _, err := db.CopyFrom(ctx, s.pool, "extracted_values",
			[]string{"session_id", "value_id", "ord", "payload"}, rows); err != nil {
			return err
		}
	}

	if len(session.Sources) > 0 {
		rows := make([][]any, 0, len(session.Sources))
		for i, src := range session.Sources {
			payload, merr := json.Marshal(src)
			if merr != nil {
				return eris.Wrap(merr, "postgres: marshal source value")
			}
			rows = append(rows, []any{session.ID, src.SourceFile, src.CellReference, i, string(payload)})
		}
		if _, err := db.CopyFrom(ctx, s.pool, "source_values",
			[]string{"session_id", "source_file", "cell_reference", "ord", "payload"}, rows); err != nil {
			return err
		}
	}

	return nil
}

func (s *PostgresStore) GetExtractionSession(ctx context.Context, id string) (*model.ExtractionSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at
		 FROM extraction_sessions WHERE id = $1`, id,
	)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	session.Values, err = queryPayloads[model.ExtractedValue](ctx, s.pool,
		`SELECT payload FROM extracted_values WHERE session_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, err
	}

	session.Sources, err = queryPayloads[model.SourceValue](ctx, s.pool,
		`SELECT payload FROM source_values WHERE session_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (s *PostgresStore) ListExtractionSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error) {
	query := `SELECT id, kind, filename, doc_stats, workbook_stats, sheet_stats, token_usage, created_at
	          FROM extraction_sessions`
	var args []any

	if filter.Kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
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
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) UpdateExtractedValue(ctx context.Context, sessionID string, value model.ExtractedValue) error {
	value.UserModified = true
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal value update")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE extracted_values SET payload = $1 WHERE session_id = $2 AND value_id = $3`,
		string(payload), sessionID, value.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update value %s", value.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("extracted value not found: %s", value.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateSourceValue(ctx context.Context, sessionID string, value model.SourceValue) error {
	value.UserModified = true
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source update")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE source_values SET payload = $1 WHERE session_id = $2 AND source_file = $3 AND cell_reference = $4`,
		string(payload), sessionID, value.SourceFile, value.CellReference,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source %s", value.Key())
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source value not found: %s", value.Key())
	}
	return nil
}

// PatchExtractedValue merges reviewer corrections into the stored payload
// with a single jsonb_set UPDATE, so concurrent edits to different fields of
// the same value cannot clobber each other.
func (s *PostgresStore) PatchExtractedValue(ctx context.Context, sessionID, valueID string, patch model.ValuePatch) (*model.ExtractedValue, error) {
	expr := "payload"
	var args []any
	set := func(path, val string) {
		args = append(args, val)
		expr = fmt.Sprintf("jsonb_set(%s, '{%s}', to_jsonb($%d::text))", expr, path, len(args))
	}
	if patch.RawValue != nil {
		set("raw_value", *patch.RawValue)
	}
	if patch.NormalizedValue != nil {
		set("normalized_value", *patch.NormalizedValue)
	}
	if patch.DataType != nil {
		set("data_type", string(*patch.DataType))
	}
	if patch.SemanticMeaning != nil {
		set("business_context,semantic_meaning", *patch.SemanticMeaning)
	}
	expr = fmt.Sprintf("jsonb_set(%s, '{user_modified}', 'true'::jsonb)", expr)

	args = append(args, sessionID, valueID)
	query := fmt.Sprintf(
		`UPDATE extracted_values SET payload = %s WHERE session_id = $%d AND value_id = $%d RETURNING payload`,
		expr, len(args)-1, len(args))

	var payload string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&payload)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "extracted value %s in session %s", valueID, sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: patch value %s", valueID)
	}

	var value model.ExtractedValue
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal patched value")
	}
	return &value, nil
}

func (s *PostgresStore) CreateAuditSession(ctx context.Context, pdfSessionID string, excelSessionIDs []string) (*model.AuditSession, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	idsJSON, err := json.Marshal(excelSessionIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal excel session ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_sessions (id, pdf_session_id, excel_session_ids, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, pdfSessionID, string(idsJSON), string(model.AuditStatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert audit session")
	}

	return &model.AuditSession{
		ID:              id,
		PDFSessionID:    pdfSessionID,
		ExcelSessionIDs: excelSessionIDs,
		Status:          model.AuditStatusPending,
		CreatedAt:       now,
	}, nil
}

func (s *PostgresStore) UpdateAuditStatus(ctx context.Context, id string, status model.AuditStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_sessions SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit session not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CompleteAuditSession(ctx context.Context, id string, report *model.AuditReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_sessions SET status = $1, report = $2, completed_at = $3 WHERE id = $4`,
		string(model.AuditStatusCompleted), string(reportJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete audit session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit session not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetAuditSession(ctx context.Context, id string) (*model.AuditSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, pdf_session_id, excel_session_ids, status, report, created_at, completed_at
		 FROM audit_sessions WHERE id = $1`, id,
	)
	return scanAuditSession(row)
}

func (s *PostgresStore) ListAuditSessions(ctx context.Context, limit int) ([]model.AuditSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pdf_session_id, excel_session_ids, status, report, created_at, completed_at
		 FROM audit_sessions ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit sessions")
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
	return sessions, eris.Wrap(rows.Err(), "postgres: list audit sessions iterate")
}

// helpers

func queryPayloads[T any](ctx context.Context, pool db.Pool, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query payloads")
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan payload")
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal payload")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate payloads")
}
