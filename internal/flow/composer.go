package flow

import (
	"fmt"
	"strings"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
)

// Compose renders the outbound reply for the state's current step: the prompt
// template with {name} substituted, plus the section's example image on
// photo-collection steps.
//
// A non-nil error means the state points outside its script (should not
// happen under correct advancement); the caller surfaces a generic apology
// instead of the prompt.
func Compose(state *models.ConversationState) (models.Reply, error) {
	entry, err := script.Lookup(state.Flow, state.StepIndex)
	if err != nil {
		return models.Reply{}, fmt.Errorf("compose: %w", err)
	}

	reply := models.Reply{
		To:   state.UserID,
		Text: strings.ReplaceAll(entry.Prompt, "{name}", state.DisplayName),
	}
	if entry.Kind == script.StepImage {
		reply.MediaURL = script.ExampleImage(entry.Section)
	}
	return reply, nil
}
