package pipeline

import (
	"fmt"

	"github.com/metatrace/metascan/internal/model"
)

// Evidence is one analysis path's contribution to a record. The two paths
// stay independent: nothing combines a statistical verdict with a narrative
// report into a single score, and consumers must treat a disagreement
// between them as two separate findings.
type Evidence interface {
	// Source identifies the producing path.
	Source() string
	// Flagged reports whether this path considers the file suspect.
	Flagged() bool
	// Summary is a one-line human-readable description.
	Summary() string
}

// StatisticalEvidence wraps a classifier verdict.
type StatisticalEvidence struct {
	Verdict *model.TamperingVerdict
}

func (e StatisticalEvidence) Source() string { return "classifier" }

func (e StatisticalEvidence) Flagged() bool { return e.Verdict != nil && e.Verdict.Tampered }

func (e StatisticalEvidence) Summary() string {
	if e.Verdict == nil {
		return "no verdict"
	}
	if e.Verdict.Confidence > 0 {
		return fmt.Sprintf("%s (confidence %.2f)", e.Verdict.Message, e.Verdict.Confidence)
	}
	return e.Verdict.Message
}

// NarrativeEvidence wraps a narrative anomaly report.
type NarrativeEvidence struct {
	Report *model.AnomalyReport
}

func (e NarrativeEvidence) Source() string { return "narrative" }

func (e NarrativeEvidence) Flagged() bool { return e.Report != nil && e.Report.AnomalyDetected }

func (e NarrativeEvidence) Summary() string {
	if e.Report == nil {
		return "no report"
	}
	if e.Report.AnomalyDetected {
		return fmt.Sprintf("%d anomalies detected", e.Report.AnomalyCount)
	}
	return e.Report.Message
}

// EvidenceFromRecord collects the evidence present on a stored record, in
// classifier-then-narrative order.
func EvidenceFromRecord(rec *model.AnalysisRecord) []Evidence {
	var ev []Evidence
	if rec.Verdict != nil {
		ev = append(ev, StatisticalEvidence{Verdict: rec.Verdict})
	}
	if rec.Report != nil {
		ev = append(ev, NarrativeEvidence{Report: rec.Report})
	}
	return ev
}
