package automation

import (
	"relaygate/internal/models"

	"go.uber.org/zap"
)

// TriggerRef identifies a trigger inside a compiled rule
type TriggerRef struct {
	Group   int
	Index   int
	Trigger Trigger
}

// DwellFunc filters a raw trigger result through the trigger's dwell timer.
// It is only consulted for triggers with a positive Delay.
type DwellFunc func(ref TriggerRef, raw bool) bool

// Evaluator evaluates compiled rules against device state
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Trigger evaluates one trigger against its device's latest record.
// Conversion failures are logged and count as false.
func (ev *Evaluator) Trigger(t Trigger, state models.DeviceState) bool {
	record, ok := state[t.DeviceKey()]
	if !ok {
		ev.logger.Debug("No state recorded for trigger device", zap.String("device", t.DeviceKey()))
		return false
	}
	result, err := t.Evaluate(record)
	if err != nil {
		ev.logger.Warn("Trigger evaluation failed",
			zap.String("device", t.DeviceKey()),
			zap.String("field", t.Field()),
			zap.Error(err))
		return false
	}
	ev.logger.Debug("Trigger evaluated",
		zap.String("device", t.DeviceKey()),
		zap.String("field", t.Field()),
		zap.Bool("result", result))
	return result
}

// Group evaluates the triggers of group gi that are bound to deviceKey.
// A group with no trigger bound to deviceKey, or with no satisfied trigger, is false.
func (ev *Evaluator) Group(g Group, gi int, deviceKey string, state models.DeviceState, dwell DwellFunc) bool {
	var results []bool
	for ti, t := range g.Triggers {
		if t.DeviceKey() != deviceKey {
			continue
		}
		// every trigger is evaluated so that dwell timers see each raw result
		raw := ev.Trigger(t, state)
		if t.Delay() > 0 && dwell != nil {
			raw = dwell(TriggerRef{Group: gi, Index: ti, Trigger: t}, raw)
		}
		results = append(results, raw)
	}
	if len(results) == 0 {
		return false
	}

	switch g.Operator {
	case models.GroupOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	default:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	}
}

// Rule evaluates every group of the rule for deviceKey; all groups must hold.
// A rule with no groups never holds.
func (ev *Evaluator) Rule(rule *CompiledRule, deviceKey string, state models.DeviceState, dwell DwellFunc) bool {
	if len(rule.Groups) == 0 {
		return false
	}
	result := true
	for gi, g := range rule.Groups {
		if !ev.Group(g, gi, deviceKey, state, dwell) {
			result = false
		}
	}
	ev.logger.Debug("Rule evaluated",
		zap.String("rule_id", rule.ID),
		zap.String("device", deviceKey),
		zap.Bool("result", result))
	return result
}
