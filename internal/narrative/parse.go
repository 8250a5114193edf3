package narrative

import (
	"strings"
	"unicode/utf8"

	"github.com/metatrace/metascan/internal/model"
)

// sentinelReply is what the model is instructed to answer when it finds too
// few anomalies to matter. Matching is lowercase substring on the shorter
// "no anomaly", so paraphrases like "No anomalies detected." still count.
const sentinelReply = "No anomaly detected."

const sentinelPhrase = "no anomaly"

// listMarkers are the characters that open a list item in model output:
// digits for numbered lists plus the bullet styles models fall back to.
const listMarkers = "1234567890•*-"

// MsgNoAnomaly is the report message when the narrative path finds nothing.
const MsgNoAnomaly = "No anomaly detected"

// ParseAnomalyReport converts raw model text into a structured report. The
// anomaly count is the number of lines that open with a list marker; a
// sentinel phrase anywhere in the reply, or a count below threshold, means
// no anomaly regardless of what else the text says.
func ParseAnomalyReport(text string, threshold int) *model.AnomalyReport {
	count := countListItems(text)

	if strings.Contains(strings.ToLower(text), sentinelPhrase) || count < threshold {
		return &model.AnomalyReport{
			AnomalyDetected: false,
			Message:         MsgNoAnomaly,
		}
	}
	return &model.AnomalyReport{
		AnomalyDetected: true,
		AnomalyCount:    count,
		Analysis:        text,
	}
}

func countListItems(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(trimmed)
		if strings.ContainsRune(listMarkers, first) {
			count++
		}
	}
	return count
}
