package notifier

import (
	"context"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
)

// AlertSender forwards operator log alerts to a fixed destination. It
// satisfies logx.AlertSender.
type AlertSender struct {
	svc    *Service
	target model.Target
}

func NewAlertSender(svc *Service, destination string) *AlertSender {
	return &AlertSender{
		svc:    svc,
		target: model.Target{ID: "log-alerts", Destination: destination, Name: "anomalyd"},
	}
}

func (a *AlertSender) SendAlert(ctx context.Context, text string) error {
	msg := digest.Message{
		Text:   text,
		Blocks: []digest.Block{{Type: digest.BlockSection, Text: &digest.Text{Type: "mrkdwn", Text: "```" + text + "```"}}},
	}
	return a.svc.Send(ctx, a.target, msg)
}
