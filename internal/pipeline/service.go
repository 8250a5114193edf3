// Package pipeline orchestrates a file's trip through extraction, the two
// analysis paths, persistence, attestation, and optional archival.
package pipeline

import (
	"context"
	"encoding/base64"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/attest"
	"github.com/metatrace/metascan/internal/blobstore"
	"github.com/metatrace/metascan/internal/classifier"
	"github.com/metatrace/metascan/internal/extract"
	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
	"github.com/metatrace/metascan/internal/narrative"
	"github.com/metatrace/metascan/internal/store"
	"github.com/metatrace/metascan/pkg/anthropic"
)

// Short-circuit verdict messages for the classifier path.
const (
	MsgNoUsefulMetadata = "No useful metadata found"
	MsgNoNumeric        = "No numeric metadata to analyze"
)

// Service runs analyses end to end. Signer and blobs are optional: a nil
// signer skips attestation, a nil blob store skips archival.
type Service struct {
	extractor  extract.Extractor
	normalizer *metadata.Normalizer
	forest     *classifier.Forest
	detector   *narrative.Detector
	store      store.Store
	signer     *attest.Signer
	blobs      blobstore.BlobStore
}

// New creates a Service with all dependencies.
func New(
	extractor extract.Extractor,
	normalizer *metadata.Normalizer,
	forest *classifier.Forest,
	detector *narrative.Detector,
	st store.Store,
	signer *attest.Signer,
	blobs blobstore.BlobStore,
) *Service {
	return &Service{
		extractor:  extractor,
		normalizer: normalizer,
		forest:     forest,
		detector:   detector,
		store:      st,
		signer:     signer,
		blobs:      blobs,
	}
}

// AnalyzeRequest identifies one uploaded file on disk.
type AnalyzeRequest struct {
	Path          string
	FileName      string
	ContentType   string
	UploaderEmail string
}

// AnalyzeStatistical runs the classifier path: extract, reduce to a numeric
// feature vector, score with the forest. Thin or non-numeric metadata
// produces a short-circuit verdict rather than an error; the record is
// persisted either way.
func (s *Service) AnalyzeStatistical(ctx context.Context, req AnalyzeRequest) (*model.AnalysisRecord, error) {
	log := zap.L().With(zap.String("file", req.FileName), zap.String("path", "statistical"))

	rec, doc, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	verdict, err := s.classify(doc, log)
	if err != nil {
		return nil, err
	}
	rec.Verdict = verdict
	rec.Metadata = doc

	if _, err := s.finish(ctx, req, rec, log); err != nil {
		return nil, err
	}
	return rec, nil
}

// classify scores the document. Thin or non-numeric metadata yields a
// short-circuit verdict; a forest scoring failure (feature-space mismatch
// between artifact and request) is an error, never a default verdict — an
// unscoreable file must not read as "not tampered".
func (s *Service) classify(doc metadata.Document, log *zap.Logger) (*model.TamperingVerdict, error) {
	if len(doc) == 0 {
		return &model.TamperingVerdict{Message: MsgNoUsefulMetadata}, nil
	}
	fv, err := s.normalizer.Normalize(doc)
	switch {
	case eris.Is(err, metadata.ErrInsufficientMetadata):
		return &model.TamperingVerdict{Message: MsgNoUsefulMetadata}, nil
	case eris.Is(err, metadata.ErrNoNumericMetadata):
		return &model.TamperingVerdict{Message: MsgNoNumeric}, nil
	case err != nil:
		return nil, eris.Wrap(err, "pipeline: normalize metadata")
	}

	verdict, err := s.forest.Classify(fv)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify metadata")
	}
	log.Info("pipeline: classified",
		zap.Bool("tampered", verdict.Tampered),
		zap.Float64("confidence", verdict.Confidence),
	)
	return verdict, nil
}

// AnalyzeNarrative runs the language-model path. Images are re-read from
// disk and attached to the request; documents go metadata-only. A model
// failure aborts the analysis and nothing is persisted.
func (s *Service) AnalyzeNarrative(ctx context.Context, req AnalyzeRequest) (*model.AnalysisRecord, error) {
	if s.detector == nil {
		return nil, eris.New("pipeline: narrative analysis is not configured")
	}
	log := zap.L().With(zap.String("file", req.FileName), zap.String("path", "narrative"))

	rec, doc, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	var image *anthropic.ImagePayload
	if rec.Category == model.CategoryImage {
		image, err = loadImage(req.Path, req.ContentType)
		if err != nil {
			return nil, err
		}
	}

	report, err := s.detector.Detect(ctx, doc, rec.Category, image)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: narrative analyzed",
		zap.Bool("anomaly_detected", report.AnomalyDetected),
		zap.Int("anomaly_count", report.AnomalyCount),
	)

	rec.Report = report
	rec.Metadata = doc

	if _, err := s.finish(ctx, req, rec, log); err != nil {
		return nil, err
	}
	return rec, nil
}

// Ingest registers an upload without running either analysis path: the file
// is fingerprinted, its metadata extracted and persisted, and the record
// signed and archived. Repeat uploads of identical bytes return the record
// already stored for that fingerprint instead of creating a duplicate.
func (s *Service) Ingest(ctx context.Context, req AnalyzeRequest) (*model.AnalysisRecord, *model.Attestation, error) {
	log := zap.L().With(zap.String("file", req.FileName), zap.String("path", "ingest"))

	hash, err := attest.FingerprintFile(req.Path)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.store.GetAnalysisByHash(ctx, hash)
	if err == nil {
		log.Info("pipeline: duplicate upload", zap.String("file_hash", hash), zap.String("id", existing.ID))
		att, err := s.store.GetAttestation(ctx, existing.ID)
		if eris.Is(err, store.ErrNotFound) {
			return existing, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return existing, att, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	doc, err := s.extractor.Extract(ctx, req.Path)
	if err != nil {
		return nil, nil, err
	}

	rec := &model.AnalysisRecord{
		FileName:      req.FileName,
		UploaderEmail: req.UploaderEmail,
		FileHash:      hash,
		ContentType:   req.ContentType,
		Category:      model.CategoryFromContentType(req.ContentType),
		Metadata:      doc,
	}

	att, err := s.finish(ctx, req, rec, log)
	if err != nil {
		return nil, nil, err
	}
	return rec, att, nil
}

// ExplainMetadata asks the language model for a plain-language explanation
// of an already-extracted metadata document. Nothing is persisted.
func (s *Service) ExplainMetadata(ctx context.Context, doc metadata.Document) (string, error) {
	if s.detector == nil {
		return "", eris.New("pipeline: narrative analysis is not configured")
	}
	return s.detector.Explain(ctx, doc)
}

// begin fingerprints the file, extracts its metadata, and builds the bare
// record shared by both paths.
func (s *Service) begin(ctx context.Context, req AnalyzeRequest) (*model.AnalysisRecord, metadata.Document, error) {
	hash, err := attest.FingerprintFile(req.Path)
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.extractor.Extract(ctx, req.Path)
	if err != nil {
		return nil, nil, err
	}

	rec := &model.AnalysisRecord{
		FileName:      req.FileName,
		UploaderEmail: req.UploaderEmail,
		FileHash:      hash,
		ContentType:   req.ContentType,
		Category:      model.CategoryFromContentType(req.ContentType),
	}
	return rec, doc, nil
}

// finish persists the record, signs it, and archives the original bytes,
// returning the attestation when one was written. Attestation and archival
// failures are logged but do not fail the analysis.
func (s *Service) finish(ctx context.Context, req AnalyzeRequest, rec *model.AnalysisRecord, log *zap.Logger) (*model.Attestation, error) {
	if err := s.store.SaveAnalysis(ctx, rec); err != nil {
		return nil, err
	}

	var att *model.Attestation
	if s.signer != nil {
		var err error
		att, err = s.signer.Attest(rec)
		if err == nil {
			err = s.store.SaveAttestation(ctx, att)
		}
		if err != nil {
			log.Warn("pipeline: attestation failed", zap.Error(err))
			att = nil
		}
	}

	if s.blobs != nil {
		data, err := os.ReadFile(req.Path)
		if err == nil {
			err = s.blobs.Put(ctx, rec.FileHash, data, req.ContentType)
		}
		if err != nil {
			log.Warn("pipeline: archive failed", zap.Error(err))
		}
	}
	return att, nil
}

// GetRecord loads one record with any attestation attached to it.
func (s *Service) GetRecord(ctx context.Context, id string) (*model.AnalysisRecord, *model.Attestation, error) {
	rec, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	att, err := s.store.GetAttestation(ctx, id)
	if eris.Is(err, store.ErrNotFound) {
		return rec, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return rec, att, nil
}

// ListRecords lists stored analyses.
func (s *Service) ListRecords(ctx context.Context, filter store.ListFilter) ([]model.AnalysisRecord, error) {
	return s.store.ListAnalyses(ctx, filter)
}

func loadImage(path, contentType string) (*anthropic.ImagePayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read image")
	}
	return &anthropic.ImagePayload{
		MediaType: contentType,
		Data:      base64.StdEncoding.EncodeToString(raw),
	}, nil
}
