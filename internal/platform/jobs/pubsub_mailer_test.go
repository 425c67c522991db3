package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront/api/internal/services"
)

func TestPubSubMailerPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "mail")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	mailer, err := NewPubSubMailer(topic)
	if err != nil {
		t.Fatalf("NewPubSubMailer: %v", err)
	}

	msg := services.MailMessage{
		Template: services.MailTemplatePasswordReset,
		To:       "ada@example.com",
		Subject:  "Reset your password",
		Variables: map[string]string{
			"link": "http://localhost:3000/reset-password?token=abc",
		},
	}
	if _, err := mailer.SendMail(ctx, msg); err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.MailMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.To != msg.To || payload.Variables["link"] != msg.Variables["link"] {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["template"]; attr != services.MailTemplatePasswordReset {
		t.Fatalf("expected template attribute, got %q", attr)
	}
}

func TestPubSubMailerRequiresRecipient(t *testing.T) {
	mailer := &PubSubMailer{topic: &pubsub.Topic{}, marshal: json.Marshal}
	if _, err := mailer.SendMail(context.Background(), services.MailMessage{Template: "x"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestNewPubSubMailerRequiresTopic(t *testing.T) {
	if _, err := NewPubSubMailer(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
