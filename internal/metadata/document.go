// Package metadata models the flat key/value documents produced by the
// extraction tool and their reduction to numeric feature vectors.
package metadata

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Document is a flat mapping of metadata field name to value as emitted by
// the extraction tool. Field names are case-sensitive; values are strings,
// numbers, or booleans depending on the field. Documents are treated as
// immutable once created.
type Document map[string]any

// ParseDocument decodes a JSON object into a Document. String values are
// NFC-normalized so that mixed-encoding tool output compares stably.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "metadata: parse document")
	}
	for k, v := range doc {
		if s, ok := v.(string); ok {
			doc[k] = norm.NFC.String(s)
		}
	}
	return doc, nil
}

// Keys returns the field names in sorted order. Insertion order carries no
// meaning for a Document, so a deterministic order is used everywhere one
// is needed (prompts, fingerprints, feature vectors).
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalIndent renders the document as indented JSON with sorted keys.
// Used verbatim in narrative prompts, so the output must be deterministic
// for a given document.
func (d Document) MarshalIndent() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "metadata: marshal document")
	}
	return string(data), nil
}
