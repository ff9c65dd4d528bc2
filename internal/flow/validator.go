// Package flow implements the conversation flow state machine for field
// visits: step validation, advancement with channel branching, one-shot
// side-effect dispatch, and reply composition.
package flow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
)

// Outcome classifies the validator's decision on an inbound message.
type Outcome string

const (
	// OutcomeAccept means the step requirement is now fully satisfied.
	OutcomeAccept Outcome = "accept"
	// OutcomeAcceptPartial means the unit was accepted but the step's
	// required count is not met yet.
	OutcomeAcceptPartial Outcome = "accept_partial"
	// OutcomeReject means the message does not satisfy the current step.
	OutcomeReject Outcome = "reject"
)

// Decision captures the validator's verdict and the state mutation to apply.
// It is a pure value; the advancer applies it.
type Decision struct {
	Outcome Outcome
	Reason  string                    // reject reason, for logs only
	Sets    map[models.DataKey]string // collected-data writes on accept
	Section string                    // media section counted, if any
}

func reject(reason string) Decision {
	return Decision{Outcome: OutcomeReject, Reason: reason}
}

// Validate decides whether an inbound message satisfies the current step of
// the conversation. It never mutates state. A non-nil error signals a
// structural anomaly (missing script entry, unknown flow), not an input
// problem; input problems are expressed as OutcomeReject.
func Validate(state *models.ConversationState, msg models.IncomingMessage) (Decision, error) {
	entry, err := script.Lookup(state.Flow, state.StepIndex)
	if err != nil {
		return Decision{}, fmt.Errorf("validate: %w", err)
	}

	switch entry.Kind {
	case script.StepAny:
		return Decision{Outcome: OutcomeAccept}, nil

	case script.StepNone:
		// Terminal step; nothing is expected. The advancer still re-runs
		// the idempotent completion check.
		return reject("terminal step"), nil

	case script.StepText:
		if msg.Kind != models.MessageKindText {
			return reject("expected text"), nil
		}
		if strings.TrimSpace(msg.Text) == "" {
			return reject("empty text"), nil
		}
		return Decision{
			Outcome: OutcomeAccept,
			Sets:    map[models.DataKey]string{entry.DataKey: msg.Text},
		}, nil

	case script.StepChoice:
		if msg.Kind != models.MessageKindText {
			return reject("expected text"), nil
		}
		code := strings.TrimSpace(msg.Text)
		for _, allowed := range entry.Choices {
			if code == allowed {
				return Decision{
					Outcome: OutcomeAccept,
					Sets:    map[models.DataKey]string{entry.DataKey: code},
				}, nil
			}
		}
		return reject("choice out of range"), nil

	case script.StepLocation:
		loc := msg.Location
		if loc == nil && msg.Kind == models.MessageKindText {
			loc = parseTextLocation(msg.Text)
		}
		if loc == nil {
			return reject("expected location"), nil
		}
		if loc.Latitude == nil || loc.Longitude == nil {
			return reject("location missing coordinates"), nil
		}
		label := loc.Name
		if label == "" {
			label = loc.Address
		}
		if entry.RequireLabel && label == "" {
			return reject("location missing store name"), nil
		}
		sets := map[models.DataKey]string{
			models.DataKeyStoreLatitude:  strconv.FormatFloat(*loc.Latitude, 'f', -1, 64),
			models.DataKeyStoreLongitude: strconv.FormatFloat(*loc.Longitude, 'f', -1, 64),
		}
		if label != "" {
			sets[models.DataKeyStoreName] = label
		}
		return Decision{Outcome: OutcomeAccept, Sets: sets}, nil

	case script.StepImage:
		if msg.Kind != models.MessageKindImage {
			return reject("expected image"), nil
		}
		have := state.MediaCounts[entry.Section] + 1
		outcome := OutcomeAcceptPartial
		if have >= entry.RequiredCount {
			outcome = OutcomeAccept
		}
		return Decision{Outcome: outcome, Section: entry.Section}, nil

	case script.StepAudio:
		if msg.Kind != models.MessageKindAudio {
			return reject("expected audio"), nil
		}
		// One audio unit always satisfies the step.
		return Decision{Outcome: OutcomeAccept, Section: entry.Section}, nil
	}

	return Decision{}, fmt.Errorf("validate: unhandled step kind %q", entry.Kind)
}

// parseTextLocation extracts a coordinate pair from free text, e.g.
// "4.60971, -74.08175" or "lat 4.60971 lng -74.08175". Returns nil when no
// pair of decimal numbers is found.
func parseTextLocation(text string) *models.Location {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	var coords []float64
	for _, f := range fields {
		f = strings.Trim(f, ":()")
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		coords = append(coords, v)
		if len(coords) == 2 {
			break
		}
	}
	if len(coords) < 2 {
		return nil
	}
	lat, lng := coords[0], coords[1]
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &models.Location{Latitude: &lat, Longitude: &lng}
}
