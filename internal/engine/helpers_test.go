package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"relaygate/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	doorTopic = "devices/door/state"
	tankTopic = "devices/tank/state"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *fakeTransport) {
	t.Helper()
	ft, ok := opts.Transport.(*fakeTransport)
	if !ok {
		ft = newFakeTransport()
		opts.Transport = ft
	}
	e := NewEngine(opts)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e, ft
}

func boolPtr(b bool) *bool { return &b }

func contactTrigger(topic string, pin int) models.Trigger {
	return models.Trigger{
		DeviceTopic:       topic,
		TriggerType:       models.TriggerDryContact,
		PinNumber:         pin,
		ConditionOperator: "is",
		TargetValue:       json.RawMessage(`true`),
	}
}

func relay(pin int) models.Action {
	return models.Action{
		ActionType:   models.ActionControlRelay,
		TargetDevice: "RELAY",
		Address:      1,
		Pin:          pin,
		TargetValue:  boolPtr(true),
	}
}

// doorRule activates while drycontactInput1 of the door is closed
func doorRule(actions ...models.Action) models.Rule {
	return models.Rule{
		Name: "Door opens pump",
		TriggerGroups: []models.TriggerGroup{{
			GroupOperator: models.GroupAnd,
			Triggers:      []models.Trigger{contactTrigger(doorTopic, 1)},
		}},
		Actions: actions,
	}
}

func addRule(t *testing.T, e *Engine, rule models.Rule) string {
	t.Helper()
	res := e.AddRule(context.Background(), rule)
	require.True(t, res.Success, res.Message)
	return res.Rule.ID
}

func door(closed bool) []byte {
	if closed {
		return []byte(`{"drycontactInput1": true}`)
	}
	return []byte(`{"drycontactInput1": false}`)
}

// flush waits for the dispatcher to execute every effect decided so far
func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

// telemetry feeds one sample to the engine and waits for its effects
func telemetry(t *testing.T, e *Engine, topic string, payload []byte) {
	t.Helper()
	e.HandleTelemetry(topic, payload)
	flush(t, e)
}
