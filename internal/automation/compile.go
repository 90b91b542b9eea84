package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"relaygate/internal/models"
)

// Group is a compiled trigger group
type Group struct {
	Operator string
	Triggers []Trigger
}

// CompiledRule is a rule with its string-typed kinds resolved once
type CompiledRule struct {
	ID      string
	Name    string
	Enabled bool
	Groups  []Group
	Actions []Action
	// LegacyKeys lists device keys taken from device_name because device_topic was empty
	LegacyKeys []string
}

// Topics returns the distinct device keys referenced by the rule's triggers
func (r *CompiledRule) Topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, g := range r.Groups {
		for _, t := range g.Triggers {
			if !seen[t.DeviceKey()] {
				seen[t.DeviceKey()] = true
				topics = append(topics, t.DeviceKey())
			}
		}
	}
	return topics
}

// References reports whether any trigger of the rule is bound to the device key
func (r *CompiledRule) References(deviceKey string) bool {
	for _, g := range r.Groups {
		for _, t := range g.Triggers {
			if t.DeviceKey() == deviceKey {
				return true
			}
		}
	}
	return false
}

// Compile validates a rule definition and resolves it into the compiled model
func Compile(rule models.Rule) (*CompiledRule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidRule)
	}

	cr := &CompiledRule{
		ID:      rule.ID,
		Name:    rule.Name,
		Enabled: rule.IsEnabled(),
	}

	for gi, g := range rule.TriggerGroups {
		op := strings.ToUpper(strings.TrimSpace(g.GroupOperator))
		if op == "" {
			op = models.GroupAnd
		}
		if op != models.GroupAnd && op != models.GroupOr {
			return nil, fmt.Errorf("%w: group %d: unknown group operator %q", models.ErrInvalidRule, gi, g.GroupOperator)
		}
		group := Group{Operator: op}
		for ti, t := range g.Triggers {
			trig, legacy, err := compileTrigger(t)
			if err != nil {
				return nil, fmt.Errorf("%w: group %d trigger %d: %v", models.ErrInvalidRule, gi, ti, err)
			}
			if legacy {
				cr.LegacyKeys = append(cr.LegacyKeys, trig.DeviceKey())
			}
			group.Triggers = append(group.Triggers, trig)
		}
		cr.Groups = append(cr.Groups, group)
	}

	for ai, a := range rule.Actions {
		act, err := compileAction(a)
		if err != nil {
			return nil, fmt.Errorf("%w: action %d: %v", models.ErrInvalidRule, ai, err)
		}
		cr.Actions = append(cr.Actions, act)
	}

	return cr, nil
}

func compileTrigger(t models.Trigger) (Trigger, bool, error) {
	key := strings.TrimSpace(t.DeviceTopic)
	legacy := false
	if key == "" {
		key = strings.TrimSpace(t.DeviceName)
		legacy = true
	}
	if key == "" {
		return nil, false, fmt.Errorf("device_topic is required")
	}
	if t.Delay < 0 {
		return nil, false, fmt.Errorf("negative delay %v", t.Delay)
	}
	base := triggerBase{
		deviceKey: key,
		field:     t.Field,
		delay:     seconds(t.Delay),
	}
	op := strings.ToLower(strings.TrimSpace(t.ConditionOperator))

	switch strings.ToLower(t.TriggerType) {
	case models.TriggerDryContact, models.TriggerBoolean:
		if base.field == "" {
			if t.PinNumber <= 0 {
				return nil, false, fmt.Errorf("boolean trigger needs pin_number or field")
			}
			base.field = fmt.Sprintf("%s%d", dryContactPrefix, t.PinNumber)
		}
		if op == "" {
			op = OpIs
		}
		if op != OpIs && op != OpAnd && op != OpOr {
			return nil, false, fmt.Errorf("unknown boolean operator %q", t.ConditionOperator)
		}
		target := true
		if len(t.TargetValue) > 0 {
			v, err := decodeAny(t.TargetValue)
			if err != nil {
				return nil, false, fmt.Errorf("boolean target: %v", err)
			}
			target = ToBool(v)
		}
		return &BoolTrigger{triggerBase: base, Op: op, Target: target}, legacy, nil

	case models.TriggerNumeric:
		if base.field == "" {
			return nil, false, fmt.Errorf("numeric trigger needs field")
		}
		nt := &NumericTrigger{triggerBase: base, Op: op}
		switch op {
		case OpBetween:
			nt.Min, nt.Max, nt.targetErr = parseRange(t.TargetValue)
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
			nt.Target, nt.targetErr = parseScalar(t.TargetValue)
		default:
			return nil, false, fmt.Errorf("unknown numeric operator %q", t.ConditionOperator)
		}
		return nt, legacy, nil
	}
	return nil, false, fmt.Errorf("unknown trigger_type %q", t.TriggerType)
}

func compileAction(a models.Action) (Action, error) {
	if a.DelayOn < 0 || a.DelayOff < 0 {
		return nil, fmt.Errorf("negative delay (on=%v off=%v)", a.DelayOn, a.DelayOff)
	}
	timing := Timing{
		DelayOn:  seconds(a.DelayOn),
		DelayOff: seconds(a.DelayOff),
		Latching: a.Latching,
	}
	if timing.DelayOff < timing.DelayOn {
		timing.DelayOff = timing.DelayOn
	}

	switch a.ActionType {
	case models.ActionControlRelay:
		value := true
		if a.TargetValue != nil {
			value = *a.TargetValue
		}
		if a.Pin < 0 {
			return nil, fmt.Errorf("negative relay pin %d", a.Pin)
		}
		return &RelayAction{
			ProtocolType: a.ProtocolType,
			Device:       a.TargetDevice,
			Address:      a.Address,
			DeviceBus:    a.DeviceBus,
			Pin:          a.Pin,
			Value:        value,
			timing:       timing,
		}, nil
	case models.ActionSendMessage:
		if a.Recipient == "" {
			return nil, fmt.Errorf("send_message needs a recipient")
		}
		return &MessageAction{
			Recipient:  a.Recipient,
			TemplateID: a.TemplateID,
			Text:       a.Message,
			timing:     timing,
		}, nil
	}
	return nil, fmt.Errorf("unknown action_type %q", a.ActionType)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func decodeAny(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
