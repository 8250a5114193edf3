package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRecord(hash string) *model.AnalysisRecord {
	return &model.AnalysisRecord{
		FileName:      "scan.jpg",
		UploaderEmail: "analyst@example.com",
		FileHash:      hash,
		ContentType:   "image/jpeg",
		Category:      model.CategoryImage,
		Metadata:      metadata.Document{"Make": "Canon", "ISO": float64(200)},
		Verdict: &model.TamperingVerdict{
			Tampered:   true,
			Confidence: 87.65,
			Message:    "Metadata indicates the file is likely tampered.",
		},
	}
}

func TestSQLiteSaveAndGetAnalysis(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := sampleRecord("hash-1")
	require.NoError(t, s.SaveAnalysis(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.FileName, got.FileName)
	assert.Equal(t, rec.UploaderEmail, got.UploaderEmail)
	assert.Equal(t, rec.FileHash, got.FileHash)
	assert.Equal(t, model.CategoryImage, got.Category)
	require.NotNil(t, got.Verdict)
	assert.True(t, got.Verdict.Tampered)
	assert.InDelta(t, 87.65, got.Verdict.Confidence, 1e-9)
	assert.Equal(t, "Canon", got.Metadata["Make"])
	assert.Nil(t, got.Report)
}

func TestSQLiteGetAnalysisNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteGetAnalysisByHash(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	older := sampleRecord("same-hash")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SaveAnalysis(ctx, older))

	newer := sampleRecord("same-hash")
	newer.FileName = "rescan.jpg"
	require.NoError(t, s.SaveAnalysis(ctx, newer))

	got, err := s.GetAnalysisByHash(ctx, "same-hash")
	require.NoError(t, err)
	assert.Equal(t, "rescan.jpg", got.FileName)

	_, err = s.GetAnalysisByHash(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListAnalysesFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	tampered := sampleRecord("h1")
	require.NoError(t, s.SaveAnalysis(ctx, tampered))

	clean := sampleRecord("h2")
	clean.Category = model.CategoryDocument
	clean.ContentType = "application/pdf"
	clean.Verdict = &model.TamperingVerdict{Tampered: false, Confidence: 93.1, Message: "No signs of tampering found in metadata."}
	require.NoError(t, s.SaveAnalysis(ctx, clean))

	all, err := s.ListAnalyses(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	images, err := s.ListAnalyses(ctx, ListFilter{Category: model.CategoryImage})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "h1", images[0].FileHash)

	isTampered := true
	flagged, err := s.ListAnalyses(ctx, ListFilter{Tampered: &isTampered})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "h1", flagged[0].FileHash)

	notTampered := false
	unflagged, err := s.ListAnalyses(ctx, ListFilter{Tampered: &notTampered})
	require.NoError(t, err)
	require.Len(t, unflagged, 1)
	assert.Equal(t, "h2", unflagged[0].FileHash)
}

func TestSQLiteListAnalysesLimitOffset(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := sampleRecord("h")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveAnalysis(ctx, rec))
	}

	page, err := s.ListAnalyses(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.ListAnalyses(ctx, ListFilter{Limit: 10, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestSQLiteAttestationRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := sampleRecord("h1")
	require.NoError(t, s.SaveAnalysis(ctx, rec))

	att := &model.Attestation{
		AnalysisID: rec.ID,
		PublicKey:  "cHVibGlj",
		Signature:  "c2lnbmF0dXJl",
	}
	require.NoError(t, s.SaveAttestation(ctx, att))
	assert.NotEmpty(t, att.ID)

	got, err := s.GetAttestation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, att.PublicKey, got.PublicKey)
	assert.Equal(t, att.Signature, got.Signature)

	_, err = s.GetAttestation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteShortCircuitRecordWithoutVerdict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := sampleRecord("h1")
	rec.Verdict = nil
	rec.Report = &model.AnomalyReport{Message: "No metadata found"}
	rec.Metadata = nil
	require.NoError(t, s.SaveAnalysis(ctx, rec))

	got, err := s.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Verdict)
	assert.Nil(t, got.Metadata)
	require.NotNil(t, got.Report)
	assert.Equal(t, "No metadata found", got.Report.Message)
}
