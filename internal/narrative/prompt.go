package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metatrace/metascan/internal/metadata"
)

// systemPrompt is shared by every anomaly request and cached server-side.
const systemPrompt = `You are a digital forensics expert.`

// anomalyPromptTemplate is the deterministic user prompt. It is
// parameterized only by the file-category label, the ignored-field list, the
// anomaly threshold, and the filtered-metadata JSON dump — identical inputs
// produce an identical prompt.
const anomalyPromptTemplate = `Here is metadata extracted from a %s file. Your job:
- Examine all metadata fields for inconsistencies or suspicious patterns.
- Examples of anomalies include:
  - Conflicting or illogical timestamps (e.g., modified before created)
  - Metadata showing usage of multiple or suspicious tools
  - Missing key fields that are expected
  - Edited tags, re-encoding, software mismatches
  - Embedded GPS/location inconsistencies
  - Any values that seem out of place for a normal file of this type

Do NOT include the following fields in your analysis:
%s

Return a structured list of all anomalies found (numbered format).
If fewer than %d are found, reply with: "%s"

Metadata to analyze:
%s`

// explainPromptTemplate carries its own persona: explanations are for
// non-technical readers and must stay clear of the tampering vocabulary, so
// the forensics system prompt is deliberately not attached to them.
const explainPromptTemplate = `You are a helpful assistant who explains file metadata to non-technical users.

Below is a JSON metadata dump. For each metadata field:
- Tell what it means in plain English
- Summarize what the value indicates
- Avoid technical language unless needed
- Do not mention tampering, editing, or anomaly detection

Format the response in clean bullet points or paragraphs so it is easy to understand.

Metadata to explain:
%s`

// buildExplainPrompt renders the plain-language explanation prompt.
func buildExplainPrompt(doc metadata.Document) (string, error) {
	dump, err := doc.MarshalIndent()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(explainPromptTemplate, dump), nil
}

// categoryLabel is the human-readable file-category label interpolated into
// the prompt.
func categoryLabel(isImage bool) string {
	if isImage {
		return "image"
	}
	return "document or digital file"
}

// buildPrompt renders the anomaly prompt for the already-filtered metadata.
func buildPrompt(filtered metadata.Document, ignored metadata.IgnoredFieldSet, isImage bool, threshold int) (string, error) {
	dump, err := filtered.MarshalIndent()
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(ignored))
	for name := range ignored {
		names = append(names, name)
	}
	sort.Strings(names)

	return fmt.Sprintf(anomalyPromptTemplate,
		categoryLabel(isImage),
		strings.Join(names, ", "),
		threshold,
		sentinelReply,
		dump,
	), nil
}
