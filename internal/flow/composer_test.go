package flow

import (
	"strings"
	"testing"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
)

func TestComposeSubstitutesName(t *testing.T) {
	state := stateAt(models.FlowTraditional, 0)
	state.DisplayName = "Laura"

	reply, err := Compose(state)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if reply.To != state.UserID {
		t.Errorf("reply addressed to %q, want %q", reply.To, state.UserID)
	}
	if !strings.Contains(reply.Text, "Laura") {
		t.Errorf("expected name substituted into greeting, got %q", reply.Text)
	}
	if strings.Contains(reply.Text, "{name}") {
		t.Errorf("placeholder left in prompt: %q", reply.Text)
	}
}

func TestComposeAttachesExampleImage(t *testing.T) {
	state := stateAt(models.FlowTraditional, 4)

	reply, err := Compose(state)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	want := script.ExampleImage(script.SectionBebidasAlc)
	if reply.MediaURL != want {
		t.Errorf("expected example image %q, got %q", want, reply.MediaURL)
	}
}

func TestComposeTextStepHasNoImage(t *testing.T) {
	state := stateAt(models.FlowTraditional, 1)

	reply, err := Compose(state)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if reply.MediaURL != "" {
		t.Errorf("text step must not carry an image, got %q", reply.MediaURL)
	}
}

func TestComposeOutOfRangeIsError(t *testing.T) {
	state := stateAt(models.FlowTraditional, 99)

	if _, err := Compose(state); err == nil {
		t.Fatal("expected error for out-of-range step")
	}
}
