package automation

import (
	"strings"
	"time"
)

// Timing holds the delay and latching configuration shared by every action
type Timing struct {
	DelayOn  time.Duration
	DelayOff time.Duration
	Latching bool
}

// Action is a compiled rule action.
// The set of implementations is closed: *RelayAction and *MessageAction.
type Action interface {
	Kind() string
	Timing() Timing
	// Reversible reports whether a deactivation can undo the action
	Reversible() bool
	action()
}

// RelayAction writes a value to a relay pin
type RelayAction struct {
	ProtocolType string
	Device       string
	Address      int
	DeviceBus    int
	Pin          int
	Value        bool
	timing       Timing
}

func (*RelayAction) action() {}

// Kind implements Action
func (*RelayAction) Kind() string { return "control_relay" }

// Timing implements Action
func (a *RelayAction) Timing() Timing { return a.timing }

// Reversible implements Action
func (*RelayAction) Reversible() bool { return true }

// Inverse returns the same relay write with the complementary value
func (a *RelayAction) Inverse() *RelayAction {
	inv := *a
	inv.Value = !a.Value
	return &inv
}

// MessageAction sends a notification through the external notification API
type MessageAction struct {
	Recipient  string
	TemplateID string
	Text       string
	timing     Timing
}

func (*MessageAction) action() {}

// Kind implements Action
func (*MessageAction) Kind() string { return "send_message" }

// Timing implements Action
func (a *MessageAction) Timing() Timing { return a.timing }

// Reversible implements Action; a notification has no inverse
func (*MessageAction) Reversible() bool { return false }

// Render fills the {{rule}}, {{device}} and {{time}} placeholders of the message text
func (a *MessageAction) Render(ruleName, deviceKey string, now time.Time) string {
	r := strings.NewReplacer(
		"{{rule}}", ruleName,
		"{{device}}", deviceKey,
		"{{time}}", now.Format("2006-01-02 15:04:05"),
	)
	return r.Replace(a.Text)
}
