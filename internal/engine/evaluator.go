package engine

import (
	"encoding/json"

	"relaygate/internal/automation"
	"relaygate/internal/models"

	"go.uber.org/zap"
)

// onTelemetry is the transport handler for device topics
func (e *Engine) onTelemetry(topic string, payload []byte) {
	e.HandleTelemetry(topic, payload)
}

// HandleTelemetry replaces the device snapshot for key and evaluates every rule bound to it
func (e *Engine) HandleTelemetry(key string, payload []byte) {
	e.metrics.telemetry()
	var record models.DeviceRecord
	if err := json.Unmarshal(payload, &record); err != nil || record == nil {
		e.logger.Warn("Ignoring malformed telemetry",
			zap.String("device", key),
			zap.ByteString("payload", payload),
			zap.Error(err))
		e.metrics.telemetryInvalid()
		return
	}
	e.Ingest(key, record)
}

// Ingest stores record as the device's snapshot and runs the evaluation pass
func (e *Engine) Ingest(key string, record models.DeviceRecord) {
	e.mu.Lock()
	e.state[key] = record

	var effects []effect
	for _, id := range e.order {
		entry := e.rules[id]
		if !entry.compiled.Enabled || !entry.compiled.References(key) {
			continue
		}
		effects = append(effects, e.evaluateRule(entry.compiled, key)...)
	}
	if e.mirror != nil {
		e.mirror.enqueue(key, record.Clone())
	}
	e.commit(effects)
}

// evaluateRule runs the rule for device and feeds the result to the state tracker.
// Called with e.mu held.
func (e *Engine) evaluateRule(rule *automation.CompiledRule, device string) []effect {
	result := e.evaluator.Rule(rule, device, e.state, e.dwellFor(rule, device))
	e.metrics.evaluation(result)

	key := activationKey{RuleID: rule.ID, Device: device}
	prev := e.active[key]
	e.active[key] = result
	if result == prev {
		return nil
	}

	var effects []effect
	if result {
		e.logger.Info("Rule activated", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name), zap.String("device", device))
		e.metrics.transition(rule.ID, "activated")
		for i, a := range rule.Actions {
			effects = append(effects, e.activateAction(rule, device, i, a)...)
		}
		return effects
	}

	e.logger.Info("Rule deactivated", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name), zap.String("device", device))
	e.metrics.transition(rule.ID, "deactivated")
	for i, a := range rule.Actions {
		effects = append(effects, e.deactivateAction(rule, device, i, a)...)
	}
	return effects
}

// clearRuleState forgets activation state and timers of a rule. Called with e.mu held.
func (e *Engine) clearRuleState(ruleID string) {
	for key := range e.active {
		if key.RuleID == ruleID {
			delete(e.active, key)
		}
	}
	e.cancelRuleTimers(ruleID)
}
