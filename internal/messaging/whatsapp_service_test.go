package messaging

import (
	"context"
	"testing"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/whatsapp"
)

func TestWhatsAppServiceCanonicalizesBeforeSend(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.SendText(context.Background(), "+57 300 111 2233", "Hola"); err != nil {
		t.Errorf("SendText failed: %v", err)
	}
	if err := svc.SendText(context.Background(), "abc", "Hola"); err == nil {
		t.Error("expected error for non-numeric recipient")
	}
	if err := svc.SendImage(context.Background(), "573001112233", "https://assets.kapta.io/examples/fachada.jpg", ""); err != nil {
		t.Errorf("SendImage failed: %v", err)
	}
}

func TestWhatsAppServiceEmitAndDrain(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	msg := models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "hola"}
	svc.EmitMessage(msg)

	select {
	case got := <-svc.Messages():
		if got.UserID != msg.UserID {
			t.Errorf("received %+v, want %+v", got, msg)
		}
	default:
		t.Fatal("expected a buffered message")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-svc.Messages(); ok {
		t.Error("messages channel must be closed after Stop")
	}
}
