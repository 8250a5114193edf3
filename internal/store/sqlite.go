package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/metatrace/metascan/internal/model"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id             TEXT PRIMARY KEY,
	file_name      TEXT NOT NULL,
	uploader_email TEXT,
	file_hash      TEXT NOT NULL,
	content_type   TEXT NOT NULL,
	category       TEXT NOT NULL,
	metadata       TEXT,
	verdict        TEXT,
	report         TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attestations (
	id          TEXT PRIMARY KEY,
	analysis_id TEXT NOT NULL REFERENCES analyses(id),
	public_key  TEXT NOT NULL,
	signature   TEXT NOT NULL,
	signed_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_file_hash ON analyses(file_hash);
CREATE INDEX IF NOT EXISTS idx_analyses_category ON analyses(category);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
CREATE INDEX IF NOT EXISTS idx_attestations_analysis_id ON attestations(analysis_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	metadataJSON, verdictJSON, reportJSON, err := encodeAnalysis(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.UploaderEmail, rec.FileHash, rec.ContentType,
		string(rec.Category), metadataJSON, verdictJSON, reportJSON, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert analysis")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at
		 FROM analyses WHERE id = ?`,
		id,
	)
	return scanAnalysis(row)
}

func (s *SQLiteStore) GetAnalysisByHash(ctx context.Context, fileHash string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at
		 FROM analyses WHERE file_hash = ? ORDER BY created_at DESC LIMIT 1`,
		fileHash,
	)
	return scanAnalysis(row)
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter ListFilter) ([]model.AnalysisRecord, error) {
	query := `SELECT id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at
		 FROM analyses WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Tampered != nil {
		query += ` AND json_extract(verdict, '$.tampered') = ?`
		args = append(args, *filter.Tampered)
	}
	if filter.UploaderEmail != "" {
		query += ` AND uploader_email = ?`
		args = append(args, filter.UploaderEmail)
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
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var recs []model.AnalysisRecord
	for rows.Next() {
		r, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) SaveAttestation(ctx context.Context, att *model.Attestation) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.SignedAt.IsZero() {
		att.SignedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attestations (id, analysis_id, public_key, signature, signed_at) VALUES (?, ?, ?, ?, ?)`,
		att.ID, att.AnalysisID, att.PublicKey, att.Signature, att.SignedAt,
	)
	return eris.Wrapf(err, "sqlite: insert attestation for %s", att.AnalysisID)
}

func (s *SQLiteStore) GetAttestation(ctx context.Context, analysisID string) (*model.Attestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, analysis_id, public_key, signature, signed_at FROM attestations
		 WHERE analysis_id = ? ORDER BY signed_at DESC LIMIT 1`,
		analysisID,
	)

	var att model.Attestation
	err := row.Scan(&att.ID, &att.AnalysisID, &att.PublicKey, &att.Signature, &att.SignedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "attestation for %s", analysisID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan attestation")
	}
	return &att, nil
}

// helpers

func encodeAnalysis(rec *model.AnalysisRecord) (metadataJSON, verdictJSON, reportJSON sql.NullString, err error) {
	if rec.Metadata != nil {
		data, merr := json.Marshal(rec.Metadata)
		if merr != nil {
			err = eris.Wrap(merr, "store: marshal metadata")
			return
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}
	if rec.Verdict != nil {
		data, merr := json.Marshal(rec.Verdict)
		if merr != nil {
			err = eris.Wrap(merr, "store: marshal verdict")
			return
		}
		verdictJSON = sql.NullString{String: string(data), Valid: true}
	}
	if rec.Report != nil {
		data, merr := json.Marshal(rec.Report)
		if merr != nil {
			err = eris.Wrap(merr, "store: marshal report")
			return
		}
		reportJSON = sql.NullString{String: string(data), Valid: true}
	}
	return
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scannable) (*model.AnalysisRecord, error) {
	var r model.AnalysisRecord
	var uploader, metadataJSON, verdictJSON, reportJSON sql.NullString
	var category string

	err := row.Scan(&r.ID, &r.FileName, &uploader, &r.FileHash, &r.ContentType,
		&category, &metadataJSON, &verdictJSON, &reportJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "analysis")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan analysis")
	}

	r.UploaderEmail = uploader.String
	r.Category = model.FileCategory(category)
	if err := decodeAnalysisJSON(&r, metadataJSON.String, verdictJSON.String, reportJSON.String); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeAnalysisJSON(r *model.AnalysisRecord, metadataJSON, verdictJSON, reportJSON string) error {
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
			return eris.Wrap(err, "store: unmarshal metadata")
		}
	}
	if verdictJSON != "" {
		r.Verdict = &model.TamperingVerdict{}
		if err := json.Unmarshal([]byte(verdictJSON), r.Verdict); err != nil {
			return eris.Wrap(err, "store: unmarshal verdict")
		}
	}
	if reportJSON != "" {
		r.Report = &model.AnomalyReport{}
		if err := json.Unmarshal([]byte(reportJSON), r.Report); err != nil {
			return eris.Wrap(err, "store: unmarshal report")
		}
	}
	return nil
}
