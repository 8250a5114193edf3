package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatrace/metascan/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_SaveAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), "scan.jpg", "analyst@example.com", "hash-1", "image/jpeg",
			"image", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := sampleRecord("hash-1")
	err := s.SaveAnalysis(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM analyses WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	uploader := "analyst@example.com"
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "file_name", "uploader_email", "file_hash", "content_type",
		"category", "metadata", "verdict", "report", "created_at",
	}).AddRow(
		"rec-1", "scan.jpg", &uploader, "hash-1", "image/jpeg",
		"image", []byte(`{"Make":"Canon"}`), []byte(`{"tampered":true,"confidence":91.5,"message":"Metadata indicates the file is likely tampered."}`), []byte(nil), createdAt,
	)

	mock.ExpectQuery(`SELECT .+ FROM analyses WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(rows)

	rec, err := s.GetAnalysis(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "analyst@example.com", rec.UploaderEmail)
	assert.Equal(t, model.CategoryImage, rec.Category)
	require.NotNil(t, rec.Verdict)
	assert.True(t, rec.Verdict.Tampered)
	assert.Nil(t, rec.Report)
	assert.Equal(t, "Canon", rec.Metadata["Make"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysisByHash_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM analyses WHERE file_hash = \$1`).
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAnalysisByHash(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAnalyses_CategoryFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	uploader := "analyst@example.com"
	rows := pgxmock.NewRows([]string{
		"id", "file_name", "uploader_email", "file_hash", "content_type",
		"category", "metadata", "verdict", "report", "created_at",
	}).AddRow(
		"rec-1", "scan.jpg", &uploader, "hash-1", "image/jpeg",
		"image", []byte(nil), []byte(nil), []byte(nil), time.Now().UTC(),
	)

	mock.ExpectQuery(`SELECT .+ FROM analyses WHERE true AND category = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("image", 100).
		WillReturnRows(rows)

	recs, err := s.ListAnalyses(context.Background(), ListFilter{Category: model.CategoryImage})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "rec-1", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAttestation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO attestations`).
		WithArgs(pgxmock.AnyArg(), "rec-1", "cHVibGlj", "c2ln", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	att := &model.Attestation{AnalysisID: "rec-1", PublicKey: "cHVibGlj", Signature: "c2ln"}
	require.NoError(t, s.SaveAttestation(context.Background(), att))
	assert.NotEmpty(t, att.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAttestation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM attestations WHERE analysis_id = \$1`).
		WithArgs("rec-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAttestation(context.Background(), "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
