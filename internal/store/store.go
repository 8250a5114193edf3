// Package store persists analysis records and their attestations. Two
// backends implement the same interface: SQLite for single-node deployments
// and Postgres for shared ones.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/metatrace/metascan/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// ListFilter specifies criteria for listing analyses.
type ListFilter struct {
	Category      model.FileCategory `json:"category,omitempty"`
	Tampered      *bool              `json:"tampered,omitempty"`
	UploaderEmail string             `json:"uploader_email,omitempty"`
	Limit         int                `json:"limit,omitempty"`
	Offset        int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Analyses
	SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error)
	GetAnalysisByHash(ctx context.Context, fileHash string) (*model.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter ListFilter) ([]model.AnalysisRecord, error)

	// Attestations
	SaveAttestation(ctx context.Context, att *model.Attestation) error
	GetAttestation(ctx context.Context, analysisID string) (*model.Attestation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
