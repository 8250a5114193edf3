package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/metatrace/metascan/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which is how the Postgres backend is tested without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_analysis":      insertAnalysisSQL,
	"get_analysis":         getAnalysisSQL,
	"get_analysis_by_hash": getAnalysisByHashSQL,
	"insert_attestation":   insertAttestationSQL,
	"get_attestation":      getAttestationSQL,
}

const (
	analysisColumns = `id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at`

	insertAnalysisSQL = `INSERT INTO analyses (id, file_name, uploader_email, file_hash, content_type, category, metadata, verdict, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	getAnalysisSQL       = `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	getAnalysisByHashSQL = `SELECT ` + analysisColumns + ` FROM analyses WHERE file_hash = $1 ORDER BY created_at DESC LIMIT 1`
	insertAttestationSQL = `INSERT INTO attestations (id, analysis_id, public_key, signature, signed_at) VALUES ($1, $2, $3, $4, $5)`
	getAttestationSQL    = `SELECT id, analysis_id, public_key, signature, signed_at FROM attestations WHERE analysis_id = $1 ORDER BY signed_at DESC LIMIT 1`
)

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

	// Prepare frequently-used statements on each new connection.
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, mainly for tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	file_name      TEXT NOT NULL,
	uploader_email TEXT,
	file_hash      TEXT NOT NULL,
	content_type   TEXT NOT NULL,
	category       TEXT NOT NULL,
	metadata       JSONB,
	verdict        JSONB,
	report         JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attestations (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	analysis_id TEXT NOT NULL REFERENCES analyses(id),
	public_key  TEXT NOT NULL,
	signature   TEXT NOT NULL,
	signed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_file_hash ON analyses(file_hash);
CREATE INDEX IF NOT EXISTS idx_analyses_category ON analyses(category);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_verdict_tampered ON analyses((verdict->>'tampered'));
CREATE INDEX IF NOT EXISTS idx_attestations_analysis_id ON attestations(analysis_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	metadataJSON, verdictJSON, reportJSON, err := encodePostgresAnalysis(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, insertAnalysisSQL,
		rec.ID, rec.FileName, nullable(rec.UploaderEmail), rec.FileHash, rec.ContentType,
		string(rec.Category), metadataJSON, verdictJSON, reportJSON, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert analysis")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, getAnalysisSQL, id)
	rec, err := scanPostgresAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "analysis %s", id)
	}
	return rec, err
}

func (s *PostgresStore) GetAnalysisByHash(ctx context.Context, fileHash string) (*model.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, getAnalysisByHashSQL, fileHash)
	rec, err := scanPostgresAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "analysis with hash %s", fileHash)
	}
	return rec, err
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter ListFilter) ([]model.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	if filter.Tampered != nil {
		query += fmt.Sprintf(` AND (verdict->>'tampered')::boolean = $%d`, argIdx)
		args = append(args, *filter.Tampered)
		argIdx++
	}
	if filter.UploaderEmail != "" {
		query += fmt.Sprintf(` AND uploader_email = $%d`, argIdx)
		args = append(args, filter.UploaderEmail)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var recs []model.AnalysisRecord
	for rows.Next() {
		rec, err := scanPostgresAnalysis(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) SaveAttestation(ctx context.Context, att *model.Attestation) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.SignedAt.IsZero() {
		att.SignedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, insertAttestationSQL,
		att.ID, att.AnalysisID, att.PublicKey, att.Signature, att.SignedAt,
	)
	return eris.Wrapf(err, "postgres: insert attestation for %s", att.AnalysisID)
}

func (s *PostgresStore) GetAttestation(ctx context.Context, analysisID string) (*model.Attestation, error) {
	var att model.Attestation
	err := s.pool.QueryRow(ctx, getAttestationSQL, analysisID).
		Scan(&att.ID, &att.AnalysisID, &att.PublicKey, &att.Signature, &att.SignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "attestation for %s", analysisID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan attestation")
	}
	return &att, nil
}

// helpers

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodePostgresAnalysis(rec *model.AnalysisRecord) (metadataJSON, verdictJSON, reportJSON []byte, err error) {
	if rec.Metadata != nil {
		if metadataJSON, err = json.Marshal(rec.Metadata); err != nil {
			err = eris.Wrap(err, "store: marshal metadata")
			return
		}
	}
	if rec.Verdict != nil {
		if verdictJSON, err = json.Marshal(rec.Verdict); err != nil {
			err = eris.Wrap(err, "store: marshal verdict")
			return
		}
	}
	if rec.Report != nil {
		if reportJSON, err = json.Marshal(rec.Report); err != nil {
			err = eris.Wrap(err, "store: marshal report")
			return
		}
	}
	return
}

func scanPostgresAnalysis(row pgx.Row) (*model.AnalysisRecord, error) {
	var r model.AnalysisRecord
	var uploader *string
	var category string
	var metadataJSON, verdictJSON, reportJSON []byte

	err := row.Scan(&r.ID, &r.FileName, &uploader, &r.FileHash, &r.ContentType,
		&category, &metadataJSON, &verdictJSON, &reportJSON, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan analysis")
	}

	if uploader != nil {
		r.UploaderEmail = *uploader
	}
	r.Category = model.FileCategory(category)
	if err := decodeAnalysisJSON(&r, string(metadataJSON), string(verdictJSON), string(reportJSON)); err != nil {
		return nil, err
	}
	return &r, nil
}
