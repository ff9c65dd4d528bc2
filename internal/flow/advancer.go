package flow

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
)

// Advance applies a validated decision to the state and returns the
// side-effect notifications the transition produced. The caller owns the
// state (a clone of the stored record) and is responsible for persisting it.
//
// Transitions are monotonic within a flow: step_index either stays put
// (reject/partial) or increments by one, except for the single
// onboarding-to-channel branch which resets it to zero under the new flow.
func Advance(state *models.ConversationState, d Decision, now time.Time) []models.Notification {
	var effects []models.Notification

	switch d.Outcome {
	case OutcomeReject:
		// No mutation. The caller re-emits the unchanged prompt.

	case OutcomeAcceptPartial:
		state.MediaCounts[d.Section]++
		state.UpdatedAt = now
		slog.Debug("Advance partial media unit accepted", "userID", state.UserID,
			"section", d.Section, "count", state.MediaCounts[d.Section])

	case OutcomeAccept:
		applyMutation(state, d)
		if state.Flow == models.FlowOnboarding && state.StepIndex == 1 {
			effects = append(effects, branchToChannel(state, now)...)
		} else if last := script.LastIndex(state.Flow); state.StepIndex < last {
			state.StepIndex++
			state.ResetMediaCounts()
			slog.Debug("Advance step incremented", "userID", state.UserID,
				"flow", state.Flow, "stepIndex", state.StepIndex)
		}
		state.UpdatedAt = now
	}

	// Completion is re-checked on every message once a channel flow is
	// active; the end_notified flag keeps it idempotent.
	if effect, ok := checkCompletion(state, now); ok {
		effects = append(effects, effect)
	}
	return effects
}

// applyMutation writes the decision's collected-data sets and media count.
func applyMutation(state *models.ConversationState, d Decision) {
	for key, value := range d.Sets {
		if err := state.SetData(key, value); err != nil {
			// Keys come from the script catalog, so this indicates a
			// catalog/model mismatch rather than bad input.
			slog.Error("Advance rejected collected-data write", "error", err,
				"userID", state.UserID, "key", key)
		}
	}
	if d.Section != "" {
		state.MediaCounts[d.Section]++
	}
}

// branchToChannel performs the once-only onboarding branch: classify the
// stored answer, switch the active flow, and emit the new-store notification.
func branchToChannel(state *models.ConversationState, now time.Time) []models.Notification {
	answer := state.Data[models.DataKeyOnboardingAnswer]
	visitType := "tiendas de barrio"
	channel := models.ChannelTraditional
	flowType := models.FlowTraditional
	if strings.Contains(strings.ToLower(answer), script.SupermarketKeyword) {
		visitType = script.SupermarketKeyword
		channel = models.ChannelModern
		flowType = models.FlowModern
	}

	state.Channel = channel
	state.Flow = flowType
	state.StepIndex = 0
	state.ResetMediaCounts()
	slog.Info("Onboarding branch decided", "userID", state.UserID,
		"channel", channel, "visitType", visitType)

	if state.NewStoreNotified {
		return nil
	}
	state.NewStoreNotified = true
	return []models.Notification{{
		Kind:      models.NotificationNewStoreStarted,
		UserID:    state.UserID,
		SessionID: state.SessionID,
		Time:      now,
		Fields: map[string]string{
			"visit_type": visitType,
			"channel":    string(channel),
			"answer":     answer,
		},
	}}
}

// checkCompletion fires the flow-completed notification the first time the
// state sits on the final index of an active channel script.
func checkCompletion(state *models.ConversationState, now time.Time) (models.Notification, bool) {
	if state.Flow == models.FlowOnboarding || state.EndNotified {
		return models.Notification{}, false
	}
	if state.StepIndex != script.LastIndex(state.Flow) {
		return models.Notification{}, false
	}
	state.EndNotified = true
	elapsed := now.Sub(state.StartedAt).Truncate(time.Second)
	slog.Info("Flow completed", "userID", state.UserID, "flow", state.Flow, "elapsed", elapsed)
	return models.Notification{
		Kind:      models.NotificationFlowCompleted,
		UserID:    state.UserID,
		SessionID: state.SessionID,
		Time:      now,
		Fields: map[string]string{
			"channel":    string(state.Channel),
			"elapsed":    elapsed.String(),
			"store_name": state.Data[models.DataKeyStoreName],
			"store_addr": state.Data[models.DataKeyStoreAddress],
		},
	}, true
}
