package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/services"
)

// PubSubMailer hands outbound email to the mail worker through a Pub/Sub topic.
type PubSubMailer struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubMailer constructs a Pub/Sub backed mailer.
func NewPubSubMailer(topic *pubsub.Topic) (*PubSubMailer, error) {
	if topic == nil {
		return nil, errors.New("pubsub mailer: topic is required")
	}
	return &PubSubMailer{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SendMail enqueues the message and returns the Pub/Sub message id.
func (p *PubSubMailer) SendMail(ctx context.Context, message services.MailMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub mailer: not initialised")
	}
	if strings.TrimSpace(message.To) == "" {
		return "", errors.New("pubsub mailer: recipient is required")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal mail message: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", message.Template)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish mail message: %w", err)
	}
	return id, nil
}

// LogMailer writes mail to the log instead of sending it. Used when no mail topic is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendMail logs the template and recipient. Variables are omitted since they carry reset links.
func (l *LogMailer) SendMail(_ context.Context, message services.MailMessage) (string, error) {
	l.logger.Info("mail not sent; no transport configured",
		zap.String("template", message.Template),
		zap.String("to", message.To),
	)
	return "", nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
