package metadata

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// Sentinel errors returned by Normalize. Callers short-circuit to a policy
// response on either; neither means the classifier ran.
var (
	// ErrInsufficientMetadata means fewer than the minimum number of fields
	// survived filtering, so no analysis is attempted.
	ErrInsufficientMetadata = eris.New("metadata: insufficient fields after filtering")

	// ErrNoNumericMetadata means enough fields survived but none carried a
	// numeric value the classifier could consume.
	ErrNoNumericMetadata = eris.New("metadata: no numeric fields")
)

// FeatureVector is the numeric reduction of a filtered document. Names and
// Values are parallel slices sorted by field name, so two documents with the
// same numeric fields produce identically ordered vectors. The classifier
// aligns features by name against its trained schema, never by position.
type FeatureVector struct {
	Names  []string
	Values []float64
}

// Len returns the number of features.
func (fv *FeatureVector) Len() int { return len(fv.Values) }

// Normalizer reduces documents to feature vectors under a shared ignore set
// and a minimum-evidence threshold.
type Normalizer struct {
	ignored   IgnoredFieldSet
	minFields int
}

// NewNormalizer builds a Normalizer. minFields <= 0 selects the default of 5.
func NewNormalizer(ignored IgnoredFieldSet, minFields int) *Normalizer {
	if minFields <= 0 {
		minFields = 5
	}
	return &Normalizer{ignored: ignored, minFields: minFields}
}

// MinFields returns the minimum-evidence threshold.
func (n *Normalizer) MinFields() int { return n.minFields }

// Normalize filters doc and extracts its numeric fields as a FeatureVector.
// Returns ErrInsufficientMetadata when fewer than the threshold fields
// survive filtering, and ErrNoNumericMetadata when none of the survivors is
// numeric. Non-numeric fields are dropped silently; numeric-looking strings
// are not coerced.
func (n *Normalizer) Normalize(doc Document) (*FeatureVector, error) {
	filtered := n.ignored.Filter(doc)
	if len(filtered) < n.minFields {
		return nil, ErrInsufficientMetadata
	}

	fv := &FeatureVector{}
	for _, name := range sortedKeys(filtered) {
		if val, ok := numericValue(filtered[name]); ok {
			fv.Names = append(fv.Names, name)
			fv.Values = append(fv.Values, val)
		}
	}
	if fv.Len() == 0 {
		return nil, ErrNoNumericMetadata
	}
	return fv, nil
}

// numericValue extracts a float64 from the value types the JSON decoder and
// the extraction tool produce for numbers. Strings never qualify, even when
// they parse as numbers — the tool emits true numbers for numeric fields.
func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
