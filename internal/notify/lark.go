// Package notify pushes best-effort alerts about records whose
// interpretation raised attention indicators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
)

// Config holds Lark messaging settings. An empty AppID disables delivery.
type Config struct {
	AppID     string
	AppSecret string
	// ReceiveID is the open_id of the care contact who gets the alerts.
	ReceiveID string
}

// LarkNotifier sends a text message when a record is flagged. All failures
// are logged and swallowed; notification never affects the upload job.
type LarkNotifier struct {
	client    *lark.Client
	receiveID string
	logger    *zap.Logger
}

// NewLarkNotifier creates the notifier. With an empty AppID it returns a
// disabled notifier whose RecordFlagged is a no-op.
func NewLarkNotifier(cfg Config, logger *zap.Logger) *LarkNotifier {
	n := &LarkNotifier{
		receiveID: cfg.ReceiveID,
		logger:    logger,
	}
	if cfg.AppID == "" {
		logger.Info("Lark notifications disabled, no app id configured")
		return n
	}
	n.client = lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return n
}

// Enabled reports whether a configured client is present.
func (n *LarkNotifier) Enabled() bool {
	return n.client != nil && n.receiveID != ""
}

// RecordFlagged sends an alert summarizing the attention indicators.
func (n *LarkNotifier) RecordFlagged(ctx context.Context, rec *record.MedicalRecord) {
	if !n.Enabled() {
		return
	}

	content, err := messageContent(rec)
	if err != nil {
		n.logger.Error("Failed to build notification content",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.receiveID).
			MsgType("text").
			Content(content).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send record alert",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return
	}
	if !resp.Success() {
		n.logger.Error("Messaging API returned failure",
			zap.String("record_id", rec.ID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return
	}

	n.logger.Info("Record alert sent",
		zap.String("record_id", rec.ID),
		zap.Int("indicators", len(rec.Interpretation.AttentionIndicators)))
}

func messageContent(rec *record.MedicalRecord) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Attention needed for %q (%s, %s).\n",
		rec.Title, rec.RecordType, rec.VisitDate.Format("2006-01-02"))
	if rec.Interpretation != nil {
		for _, indicator := range rec.Interpretation.AttentionIndicators {
			fmt.Fprintf(&b, "- %s\n", indicator)
		}
	}

	payload, err := json.Marshal(map[string]string{"text": b.String()})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return string(payload), nil
}
