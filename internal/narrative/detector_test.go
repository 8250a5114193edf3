package narrative

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
	"github.com/metatrace/metascan/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func richDocument() metadata.Document {
	return metadata.Document{
		"FileType":       "JPEG",
		"Make":           "Canon",
		"CameraModel":    "EOS R5",
		"Software":       "Adobe Photoshop 25.0",
		"CreateDate":     "2025:01:02 10:00:00",
		"ModifyDate":     "2024:12:31 09:00:00",
		"FileModifyDate": "2025:01:01 00:00:00",
	}
}

func TestDetectEmptyMetadata(t *testing.T) {
	client := new(mockClient)
	d := NewDetector(client, nil, Config{})

	report, err := d.Detect(context.Background(), metadata.Document{}, model.CategoryDocument, nil)
	require.NoError(t, err)
	assert.False(t, report.AnomalyDetected)
	assert.Equal(t, MsgNoMetadata, report.Message)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestDetectTooFewFields(t *testing.T) {
	client := new(mockClient)
	d := NewDetector(client, nil, Config{})

	// Four fields survive filtering, one below the default minimum.
	doc := metadata.Document{
		"FileType":       "PDF",
		"Producer":       "LibreOffice",
		"PageCount":      float64(3),
		"Title":          "report",
		"FileModifyDate": "2025:01:01 00:00:00",
	}
	report, err := d.Detect(context.Background(), doc, model.CategoryDocument, nil)
	require.NoError(t, err)
	assert.False(t, report.AnomalyDetected)
	assert.Equal(t, MsgNoAnomaly, report.Message)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestDetectUnsupportedCategory(t *testing.T) {
	client := new(mockClient)
	d := NewDetector(client, nil, Config{})

	report, err := d.Detect(context.Background(), richDocument(), model.CategoryUnsupported, nil)
	require.NoError(t, err)
	assert.False(t, report.AnomalyDetected)
	assert.Equal(t, MsgUnsupported, report.Message)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestDetectNumberedAnomalies(t *testing.T) {
	client := new(mockClient)
	reply := strings.Join([]string{
		"Here are the anomalies I found:",
		"1. ModifyDate precedes CreateDate.",
		"2. Software indicates editing.",
		"3. Missing GPS block expected for this camera.",
		"4. Thumbnail hash mismatch.",
		"5. Color profile re-embedded.",
		"6. XMP toolkit differs from EXIF software.",
	}, "\n")
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(reply), nil)

	d := NewDetector(client, nil, Config{})
	report, err := d.Detect(context.Background(), richDocument(), model.CategoryDocument, nil)
	require.NoError(t, err)
	assert.True(t, report.AnomalyDetected)
	assert.Equal(t, 6, report.AnomalyCount)
	assert.Equal(t, reply, report.Analysis)
	client.AssertExpectations(t)
}

func TestDetectSentinelReply(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("No anomaly detected."), nil)

	d := NewDetector(client, nil, Config{})
	report, err := d.Detect(context.Background(), richDocument(), model.CategoryDocument, nil)
	require.NoError(t, err)
	assert.False(t, report.AnomalyDetected)
	assert.Equal(t, MsgNoAnomaly, report.Message)
}

func TestDetectBelowThreshold(t *testing.T) {
	client := new(mockClient)
	reply := "Minor observations:\n- odd producer string\n- short title\n- generic creator"
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(reply), nil)

	d := NewDetector(client, nil, Config{})
	report, err := d.Detect(context.Background(), richDocument(), model.CategoryDocument, nil)
	require.NoError(t, err)
	assert.False(t, report.AnomalyDetected)
}

func TestDetectImageAttachesPayload(t *testing.T) {
	client := new(mockClient)
	var captured anthropic.MessageRequest
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		captured = req
		return true
	})).Return(textResponse("No anomaly detected."), nil)

	d := NewDetector(client, nil, Config{})
	payload := &anthropic.ImagePayload{MediaType: "image/jpeg", Data: "aGVsbG8="}
	_, err := d.Detect(context.Background(), richDocument(), model.CategoryImage, payload)
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, payload, captured.Messages[0].Image)
	assert.Contains(t, captured.Messages[0].Content, "image file")
}

func TestDetectImageWithoutPayload(t *testing.T) {
	client := new(mockClient)
	d := NewDetector(client, nil, Config{})

	_, err := d.Detect(context.Background(), richDocument(), model.CategoryImage, nil)
	assert.Error(t, err)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestDetectAPIFailure(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("boom"))

	d := NewDetector(client, nil, Config{})
	report, err := d.Detect(context.Background(), richDocument(), model.CategoryDocument, nil)
	assert.Nil(t, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestDetectDocumentDropsImage(t *testing.T) {
	client := new(mockClient)
	var captured anthropic.MessageRequest
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		captured = req
		return true
	})).Return(textResponse("No anomaly detected."), nil)

	d := NewDetector(client, nil, Config{})
	payload := &anthropic.ImagePayload{MediaType: "image/png", Data: "aGVsbG8="}
	_, err := d.Detect(context.Background(), richDocument(), model.CategoryDocument, payload)
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Nil(t, captured.Messages[0].Image)
}

func TestParseAnomalyReportSentinelInsideList(t *testing.T) {
	// The sentinel wins even when the reply also has enough list items.
	text := "1. a\n2. b\n3. c\n4. d\n5. e\nOverall: no anomaly of significance."
	report := ParseAnomalyReport(text, 5)
	assert.False(t, report.AnomalyDetected)
}

func TestParseAnomalyReportBulletStyles(t *testing.T) {
	text := "• one\n* two\n- three\n1. four\n9 five"
	report := ParseAnomalyReport(text, 5)
	assert.True(t, report.AnomalyDetected)
	assert.Equal(t, 5, report.AnomalyCount)
}

func TestPromptIsDeterministic(t *testing.T) {
	ignored := metadata.NewIgnoredFieldSet(nil)
	filtered := ignored.Filter(richDocument())

	a, err := buildPrompt(filtered, ignored, true, 5)
	require.NoError(t, err)
	b, err := buildPrompt(filtered, ignored, true, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "FileModifyDate")
	assert.Contains(t, a, `"No anomaly detected."`)
}

func TestExplainReturnsReply(t *testing.T) {
	client := new(mockClient)
	var captured anthropic.MessageRequest
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		captured = req
		return true
	})).Return(textResponse("- FileType: the kind of file, here a JPEG photo."), nil)

	d := NewDetector(client, nil, Config{})
	summary, err := d.Explain(context.Background(), richDocument())
	require.NoError(t, err)
	assert.Contains(t, summary, "JPEG photo")

	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "plain English")
	assert.Contains(t, captured.Messages[0].Content, "Adobe Photoshop 25.0")
	assert.Empty(t, captured.System)
	assert.Nil(t, captured.Messages[0].Image)
}

func TestExplainEmptyMetadata(t *testing.T) {
	client := new(mockClient)
	d := NewDetector(client, nil, Config{})

	_, err := d.Explain(context.Background(), metadata.Document{})
	require.Error(t, err)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExplainAPIFailure(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	d := NewDetector(client, nil, Config{})
	_, err := d.Explain(context.Background(), richDocument())
	require.ErrorIs(t, err, ErrAnalysisFailed)
}
