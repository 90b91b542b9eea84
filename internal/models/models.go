package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors shared across packages
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
	ErrNotConnected = errors.New("transport not connected")
)

// Trigger kinds
const (
	TriggerDryContact = "drycontact"
	TriggerBoolean    = "boolean"
	TriggerNumeric    = "numeric"
)

// Action kinds
const (
	ActionControlRelay = "control_relay"
	ActionSendMessage  = "send_message"
)

// Group operators
const (
	GroupAnd = "AND"
	GroupOr  = "OR"
)

// DeviceRecord is the latest telemetry sample of one device (field -> value)
type DeviceRecord map[string]interface{}

// Clone returns a shallow copy of the record
func (r DeviceRecord) Clone() DeviceRecord {
	if r == nil {
		return nil
	}
	out := make(DeviceRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Trigger is a single condition on one device field
type Trigger struct {
	DeviceTopic       string          `json:"device_topic,omitempty"`
	DeviceName        string          `json:"device_name,omitempty"`
	TriggerType       string          `json:"trigger_type"`
	PinNumber         int             `json:"pin_number,omitempty"`
	Field             string          `json:"field,omitempty"`
	ConditionOperator string          `json:"condition_operator"`
	TargetValue       json.RawMessage `json:"target_value"`
	Delay             float64         `json:"delay,omitempty"` // seconds the condition must hold
}

// TriggerGroup combines triggers with AND/OR
type TriggerGroup struct {
	GroupOperator string    `json:"group_operator"`
	Triggers      []Trigger `json:"triggers"`
}

// Action is a relay write or a notification attached to a rule
type Action struct {
	ActionType string `json:"action_type"`

	// control_relay
	ProtocolType string `json:"protocol_type,omitempty"`
	TargetDevice string `json:"target_device,omitempty"`
	Address      int    `json:"address,omitempty"`
	DeviceBus    int    `json:"device_bus,omitempty"`
	Pin          int    `json:"pin,omitempty"`
	TargetValue  *bool  `json:"target_value,omitempty"`

	// send_message
	Recipient  string `json:"recipient,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	Message    string `json:"message,omitempty"`

	DelayOn  float64 `json:"delay_on"`
	DelayOff float64 `json:"delay_off"`
	Latching bool    `json:"latching"`
}

// Rule represents an automation rule
type Rule struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Enabled       *bool          `json:"enabled,omitempty"`
	TriggerGroups []TriggerGroup `json:"trigger_groups"`
	Actions       []Action       `json:"actions"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsEnabled reports whether the rule takes part in evaluation; absent means enabled
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Result is the reply of a rule CRUD operation
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Rule    *Rule  `json:"rule,omitempty"`
	Err     error  `json:"-"`
}

// DeviceState maps a device key to its latest record
type DeviceState map[string]DeviceRecord

// Clone returns a copy of the rule that shares no slices with the original
func (r Rule) Clone() Rule {
	out := r
	if r.Enabled != nil {
		enabled := *r.Enabled
		out.Enabled = &enabled
	}
	if r.TriggerGroups != nil {
		out.TriggerGroups = make([]TriggerGroup, len(r.TriggerGroups))
		for i, g := range r.TriggerGroups {
			out.TriggerGroups[i] = TriggerGroup{
				GroupOperator: g.GroupOperator,
				Triggers:      append([]Trigger(nil), g.Triggers...),
			}
		}
	}
	if r.Actions != nil {
		out.Actions = append([]Action(nil), r.Actions...)
	}
	return out
}

// Notification is handed to the external notification API
type Notification struct {
	Recipient  string `json:"to"`
	TemplateID string `json:"template"`
	Text       string `json:"text"`
}
