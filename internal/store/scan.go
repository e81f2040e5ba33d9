package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deck-audit/internal/model"
)

// scannable covers *sql.Row, *sql.Rows, pgx.Row, and pgx.Rows so both
// backends share the same scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalSessionBlobs(session *model.ExtractionSession) (docStats, wbStats, sheetStats sql.NullString, usage string, err error) {
	if session.DocStats != nil {
		b, merr := json.Marshal(session.DocStats)
		if merr != nil {
			return docStats, wbStats, sheetStats, "", eris.Wrap(merr, "marshal doc stats")
		}
		docStats = sql.NullString{String: string(b), Valid: true}
	}
	if session.WorkbookStats != nil {
		b, merr := json.Marshal(session.WorkbookStats)
		if merr != nil {
			return docStats, wbStats, sheetStats, "", eris.Wrap(merr, "marshal workbook stats")
		}
		wbStats = sql.NullString{String: string(b), Valid: true}
	}
	if len(session.SheetStats) > 0 {
		b, merr := json.Marshal(session.SheetStats)
		if merr != nil {
			return docStats, wbStats, sheetStats, "", eris.Wrap(merr, "marshal sheet stats")
		}
		sheetStats = sql.NullString{String: string(b), Valid: true}
	}
	b, merr := json.Marshal(session.TokenUsage)
	if merr != nil {
		return docStats, wbStats, sheetStats, "", eris.Wrap(merr, "marshal token usage")
	}
	return docStats, wbStats, sheetStats, string(b), nil
}

func scanSession(row scannable) (*model.ExtractionSession, error) {
	var sess model.ExtractionSession
	var kind string
	var docStats, wbStats, sheetStats sql.NullString
	var usage string

	err := row.Scan(&sess.ID, &kind, &sess.Filename, &docStats, &wbStats, &sheetStats, &usage, &sess.CreatedAt)
	if isNoRows(err) {
		return nil, eris.New("session not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan session")
	}
	sess.Kind = model.SessionKind(kind)

	if docStats.Valid {
		sess.DocStats = &model.DocumentStats{}
		if err := json.Unmarshal([]byte(docStats.String), sess.DocStats); err != nil {
			return nil, eris.Wrap(err, "unmarshal doc stats")
		}
	}
	if wbStats.Valid {
		sess.WorkbookStats = &model.WorkbookStats{}
		if err := json.Unmarshal([]byte(wbStats.String), sess.WorkbookStats); err != nil {
			return nil, eris.Wrap(err, "unmarshal workbook stats")
		}
	}
	if sheetStats.Valid {
		if err := json.Unmarshal([]byte(sheetStats.String), &sess.SheetStats); err != nil {
			return nil, eris.Wrap(err, "unmarshal sheet stats")
		}
	}
	if err := json.Unmarshal([]byte(usage), &sess.TokenUsage); err != nil {
		return nil, eris.Wrap(err, "unmarshal token usage")
	}

	return &sess, nil
}

func scanAuditSession(row scannable) (*model.AuditSession, error) {
	var sess model.AuditSession
	var status string
	var idsJSON string
	var report sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.PDFSessionID, &idsJSON, &status, &report, &sess.CreatedAt, &completedAt)
	if isNoRows(err) {
		return nil, eris.New("audit session not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan audit session")
	}
	sess.Status = model.AuditStatus(status)

	if err := json.Unmarshal([]byte(idsJSON), &sess.ExcelSessionIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal excel session ids")
	}
	if report.Valid {
		sess.Report = &model.AuditReport{}
		if err := json.Unmarshal([]byte(report.String), sess.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}

	return &sess, nil
}

func collectPayloads[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "scan payload")
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, eris.Wrap(err, "unmarshal payload")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "iterate payloads")
}
