package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Inbound text, image, audio and location messages are converted to
// the transport-agnostic envelope; media bytes are downloaded eagerly so the
// archiver can run without a provider round-trip.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling; nil for mocks
	messages chan models.IncomingMessage
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by removing all non-numeric characters.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.messages)
	return nil
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// SendImage sends an image by URL.
func (s *WhatsAppService) SendImage(ctx context.Context, to string, imageURL string, caption string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendImage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendImage(ctx, canonicalTo, imageURL, caption)
}

// Messages returns the channel of inbound messages.
func (s *WhatsAppService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

// EmitMessage pushes an inbound message into the processing channel without
// blocking. Messages arriving over the Whatsmeow event stream use the same
// path; this entry point exists for the webhook surface and tests.
func (s *WhatsAppService) EmitMessage(msg models.IncomingMessage) {
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService message emitted", "from", msg.UserID, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", msg.UserID)
	}
}

// handleEvents registers the event handler on the underlying client and
// keeps it running until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msgEvt, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(ctx, msgEvt)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a Whatsmeow message event into the inbound
// envelope and forwards it.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil {
		return
	}

	msg := models.IncomingMessage{
		MessageID:   string(evt.Info.ID),
		UserID:      strings.TrimPrefix(evt.Info.Sender.User, "+"),
		DisplayName: evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Kind = models.MessageKindText
		msg.Text = evt.Message.GetConversation()

	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Kind = models.MessageKindText
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()

	case evt.Message.GetImageMessage() != nil:
		img := evt.Message.GetImageMessage()
		msg.Kind = models.MessageKindImage
		msg.Media = &models.MediaRef{
			ID:       evt.Info.ID,
			MimeType: img.GetMimetype(),
		}
		if data, err := s.waClient.DownloadMedia(ctx, img); err != nil {
			slog.Error("WhatsAppService image download failed", "error", err, "from", msg.UserID)
		} else {
			msg.Media.Data = data
		}

	case evt.Message.GetAudioMessage() != nil:
		audio := evt.Message.GetAudioMessage()
		msg.Kind = models.MessageKindAudio
		msg.Media = &models.MediaRef{
			ID:       evt.Info.ID,
			MimeType: audio.GetMimetype(),
		}
		if data, err := s.waClient.DownloadMedia(ctx, audio); err != nil {
			slog.Error("WhatsAppService audio download failed", "error", err, "from", msg.UserID)
		} else {
			msg.Media.Data = data
		}

	case evt.Message.GetLocationMessage() != nil:
		loc := evt.Message.GetLocationMessage()
		lat := loc.GetDegreesLatitude()
		lng := loc.GetDegreesLongitude()
		msg.Kind = models.MessageKindLocation
		msg.Location = &models.Location{
			Latitude:  &lat,
			Longitude: &lng,
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
		}

	default:
		slog.Debug("WhatsAppService ignoring unsupported message", "from", msg.UserID)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "from", msg.UserID, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", msg.UserID)
	}
}
