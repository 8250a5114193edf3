// Package narrative runs the language-model anomaly detection path: it
// renders the filtered metadata into a forensic-analyst prompt, sends it to
// the Anthropic API (with the image attached for image files), and reduces
// the free-text reply to a structured anomaly report.
package narrative

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
	"github.com/metatrace/metascan/pkg/anthropic"
)

// ErrAnalysisFailed marks a narrative request that never produced a usable
// reply (API error, timeout). Callers must distinguish this from a clean
// report: a failed analysis says nothing about the file.
var ErrAnalysisFailed = eris.New("narrative: analysis failed")

// MsgNoMetadata is the report message when extraction produced nothing.
const MsgNoMetadata = "No metadata found"

// MsgUnsupported is the report message for file types outside both
// analysis modalities.
const MsgUnsupported = "Unsupported file type"

// Config holds the tunables for a Detector.
type Config struct {
	// Model is the Anthropic model identifier to call.
	Model string
	// MaxTokens bounds the reply length.
	MaxTokens int64
	// MinFields is the minimum number of non-ignored metadata fields
	// required before a request is worth making.
	MinFields int
	// AnomalyThreshold is the minimum list-item count that flips a reply
	// into a detection.
	AnomalyThreshold int
	// Timeout bounds each API call.
	Timeout time.Duration
	// RequestsPerMinute throttles outbound API calls. Zero disables the
	// limiter.
	RequestsPerMinute int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:             "claude-sonnet-4-20250514",
		MaxTokens:         2048,
		MinFields:         5,
		AnomalyThreshold:  5,
		Timeout:           60 * time.Second,
		RequestsPerMinute: 20,
	}
}

// Detector is the narrative anomaly detection service.
type Detector struct {
	client  anthropic.Client
	ignored metadata.IgnoredFieldSet
	cfg     Config
	limiter *rate.Limiter
	system  []anthropic.SystemBlock
}

// NewDetector builds a Detector. A nil ignored set falls back to the
// default ignore list; zero-valued config fields fall back to defaults.
func NewDetector(client anthropic.Client, ignored metadata.IgnoredFieldSet, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MinFields <= 0 {
		cfg.MinFields = def.MinFields
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if ignored == nil {
		ignored = metadata.NewIgnoredFieldSet(nil)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Detector{
		client:  client,
		ignored: ignored,
		cfg:     cfg,
		limiter: limiter,
		system:  anthropic.BuildCachedSystemBlocks(systemPrompt),
	}
}

// Detect analyzes one file's metadata. The image payload must be non-nil
// for image-category files and is ignored for the rest. Short-circuit
// outcomes (empty metadata, too few fields, unsupported category) return a
// report without calling the API.
func (d *Detector) Detect(ctx context.Context, doc metadata.Document, category model.FileCategory, image *anthropic.ImagePayload) (*model.AnomalyReport, error) {
	if len(doc) == 0 {
		return &model.AnomalyReport{Message: MsgNoMetadata}, nil
	}

	filtered := d.ignored.Filter(doc)
	if len(filtered) < d.cfg.MinFields {
		return &model.AnomalyReport{Message: MsgNoAnomaly}, nil
	}

	switch category {
	case model.CategoryImage:
		if image == nil {
			return nil, eris.New("narrative: image payload required for image category")
		}
	case model.CategoryDocument:
		image = nil
	default:
		return &model.AnomalyReport{Message: MsgUnsupported}, nil
	}

	prompt, err := buildPrompt(filtered, d.ignored, category == model.CategoryImage, d.cfg.AnomalyThreshold)
	if err != nil {
		return nil, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "narrative: rate limit wait")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := d.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     d.cfg.Model,
		MaxTokens: d.cfg.MaxTokens,
		System:    d.system,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt, Image: image},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(ErrAnalysisFailed, "create message: %v", err)
	}
	resp.Usage.LogCost(d.cfg.Model, "narrative")

	text := anthropic.ExtractText(resp)
	if text == "" {
		return nil, eris.Wrap(ErrAnalysisFailed, "empty reply")
	}
	return ParseAnomalyReport(text, d.cfg.AnomalyThreshold), nil
}

// Explain asks the model to describe a metadata document in plain language
// for a non-technical reader and returns the reply verbatim.
func (d *Detector) Explain(ctx context.Context, doc metadata.Document) (string, error) {
	if len(doc) == 0 {
		return "", eris.New("narrative: no metadata to explain")
	}

	prompt, err := buildExplainPrompt(doc)
	if err != nil {
		return "", err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "narrative: rate limit wait")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := d.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     d.cfg.Model,
		MaxTokens: d.cfg.MaxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", eris.Wrapf(ErrAnalysisFailed, "create message: %v", err)
	}
	resp.Usage.LogCost(d.cfg.Model, "explain")

	text := anthropic.ExtractText(resp)
	if text == "" {
		return "", eris.Wrap(ErrAnalysisFailed, "empty reply")
	}
	return text, nil
}
