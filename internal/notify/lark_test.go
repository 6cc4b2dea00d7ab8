package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
)

func TestNewLarkNotifier_DisabledWithoutAppID(t *testing.T) {
	n := NewLarkNotifier(Config{ReceiveID: "ou_123"}, zap.NewNop())
	assert.False(t, n.Enabled())

	// No client configured, must not panic or call out.
	n.RecordFlagged(context.Background(), &record.MedicalRecord{ID: "r1"})
}

func TestMessageContent(t *testing.T) {
	rec := &record.MedicalRecord{
		ID:         "r1",
		Title:      "Quarterly labs",
		RecordType: record.TypeLabResult,
		VisitDate:  time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		Interpretation: &record.Interpretation{
			AttentionIndicators: []string{"LDL well above range", "Fasting glucose elevated"},
		},
	}

	content, err := messageContent(rec)
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(content), &payload))
	text := payload["text"]
	assert.Contains(t, text, `"Quarterly labs"`)
	assert.Contains(t, text, "2026-06-02")
	assert.Contains(t, text, "- LDL well above range")
	assert.Contains(t, text, "- Fasting glucose elevated")
}

func TestMessageContent_NoInterpretation(t *testing.T) {
	content, err := messageContent(&record.MedicalRecord{
		Title:      "Scan",
		RecordType: record.TypeScan,
		VisitDate:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, content, "Attention needed")
}
