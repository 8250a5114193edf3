// Package model defines the domain types shared across the analysis
// pipeline, store, and API.
package model

import (
	"strings"
	"time"

	"github.com/metatrace/metascan/internal/metadata"
)

// FileCategory selects the narrative analysis modality for a file.
type FileCategory string

const (
	CategoryImage       FileCategory = "image"
	CategoryDocument    FileCategory = "document"
	CategoryUnsupported FileCategory = "unsupported"
)

// documentTypeMarkers are content-type fragments routed to metadata-only
// analysis. The match is deliberately broad: anything document-shaped gets
// the text path rather than being rejected.
var documentTypeMarkers = []string{
	"pdf", "word", "text", "msword", "officedocument",
	"plain", "application", "code", "text/x",
}

// CategoryFromContentType maps a MIME type to a FileCategory. Images win
// over the document markers; unknown types are unsupported.
func CategoryFromContentType(contentType string) FileCategory {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "image") {
		return CategoryImage
	}
	for _, marker := range documentTypeMarkers {
		if strings.Contains(ct, marker) {
			return CategoryDocument
		}
	}
	return CategoryUnsupported
}

// TamperingVerdict is the classifier path's externally visible outcome.
// Confidence is confidence in the stated label, in [0,100] — a clean file
// with P(tampered)=0.08 reports confidence 92.00, not 8.00.
type TamperingVerdict struct {
	Tampered   bool    `json:"tampered"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message"`
}

// AnomalyReport is the narrative path's externally visible outcome, reduced
// from the model's free-text reply.
type AnomalyReport struct {
	AnomalyDetected bool   `json:"anomaly_detected"`
	AnomalyCount    int    `json:"anomaly_count,omitempty"`
	Analysis        string `json:"analysis,omitempty"`
	Message         string `json:"message,omitempty"`
}

// AnalysisRecord is the persisted fingerprint of one analyzed upload.
type AnalysisRecord struct {
	ID            string            `json:"id"`
	FileName      string            `json:"file_name"`
	UploaderEmail string            `json:"uploader_email,omitempty"`
	FileHash      string            `json:"file_hash"`
	ContentType   string            `json:"content_type"`
	Category      FileCategory      `json:"category"`
	Metadata      metadata.Document `json:"metadata,omitempty"`
	Verdict       *TamperingVerdict `json:"verdict,omitempty"`
	Report        *AnomalyReport    `json:"report,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Attestation binds an Ed25519 signature to an analysis record.
type Attestation struct {
	ID         string    `json:"id"`
	AnalysisID string    `json:"analysis_id"`
	PublicKey  string    `json:"public_key"`
	Signature  string    `json:"signature"`
	SignedAt   time.Time `json:"signed_at"`
}
