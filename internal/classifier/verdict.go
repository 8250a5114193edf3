package classifier

import (
	"math"

	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
)

// Verdict messages for the classifier path.
const (
	MsgTampered = "Metadata indicates the file is likely tampered."
	MsgClean    = "No signs of tampering found in metadata."
)

// Classify scores a feature vector and applies the verdict policy: the hard
// label follows the 0.5 boundary, and the reported confidence is always
// confidence in the returned label — round(p*100) when tampered,
// round((1-p)*100) when clean.
func (f *Forest) Classify(fv *metadata.FeatureVector) (*model.TamperingVerdict, error) {
	p, err := f.PredictProba(fv)
	if err != nil {
		return nil, err
	}
	return VerdictFromProbability(p), nil
}

// VerdictFromProbability converts P(tampered) into the externally visible
// verdict, confidence rounded to two decimals.
func VerdictFromProbability(pTampered float64) *model.TamperingVerdict {
	if pTampered > 0.5 {
		return &model.TamperingVerdict{
			Tampered:   true,
			Confidence: round2(pTampered * 100),
			Message:    MsgTampered,
		}
	}
	return &model.TamperingVerdict{
		Tampered:   false,
		Confidence: round2((1 - pTampered) * 100),
		Message:    MsgClean,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
