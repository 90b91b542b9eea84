package engine

import (
	"context"
	"time"

	"relaygate/internal/automation"

	"go.uber.org/zap"
)

type timerPhase int

const (
	phaseDelayOn timerPhase = iota
	phaseDelayOff
)

func (p timerPhase) String() string {
	if p == phaseDelayOff {
		return "delay_off"
	}
	return "delay_on"
}

// timerKey identifies the single action timer allowed per (rule, device, action)
type timerKey struct {
	RuleID string
	Device string
	Index  int
}

type actionTimer struct {
	phase    timerPhase
	started  time.Time
	delay    time.Duration
	action   automation.Action
	ruleName string
	seq      uint64
	cancel   context.CancelFunc
}

// activateAction runs the ON side of the action scheduler for one action.
// Called with e.mu held.
func (e *Engine) activateAction(rule *automation.CompiledRule, device string, index int, a automation.Action) []effect {
	key := timerKey{RuleID: rule.ID, Device: device, Index: index}
	if tm, ok := e.actionTimers[key]; ok {
		if tm.phase == phaseDelayOn {
			e.logger.Info("Delay-on timer already pending, ignoring activation",
				zap.String("rule_id", rule.ID),
				zap.String("device", device),
				zap.Int("action", index))
			return nil
		}
		// a fresh activation supersedes the previous delay-off
		e.logger.Debug("Superseding pending delay-off timer",
			zap.String("rule_id", rule.ID),
			zap.String("device", device),
			zap.Int("action", index))
		e.dropActionTimer(key)
	}

	timing := a.Timing()
	if timing.DelayOn > 0 {
		e.armActionTimer(key, &actionTimer{
			phase:    phaseDelayOn,
			delay:    timing.DelayOn,
			action:   a,
			ruleName: rule.Name,
		})
		return nil
	}

	effects := []effect{{ruleID: rule.ID, ruleName: rule.Name, device: device, action: a}}
	if timing.DelayOff > 0 && a.Reversible() {
		e.armActionTimer(key, &actionTimer{
			phase:    phaseDelayOff,
			delay:    timing.DelayOff,
			action:   a,
			ruleName: rule.Name,
		})
	}
	return effects
}

// deactivateAction is the latching controller for one action.
// Called with e.mu held.
func (e *Engine) deactivateAction(rule *automation.CompiledRule, device string, index int, a automation.Action) []effect {
	key := timerKey{RuleID: rule.ID, Device: device, Index: index}
	if e.opts.CancelStaleTimers {
		if tm, ok := e.actionTimers[key]; ok {
			e.logger.Info("Cancelling pending timer on deactivation",
				zap.String("rule_id", rule.ID),
				zap.String("device", device),
				zap.Int("action", index),
				zap.Stringer("phase", tm.phase))
			e.dropActionTimer(key)
		}
	}

	if a.Timing().Latching || !a.Reversible() {
		return nil
	}
	relay, ok := a.(*automation.RelayAction)
	if !ok {
		return nil
	}
	return []effect{{ruleID: rule.ID, ruleName: rule.Name, device: device, action: relay.Inverse()}}
}

// armActionTimer registers tm under key and starts its goroutine.
// Called with e.mu held.
func (e *Engine) armActionTimer(key timerKey, tm *actionTimer) {
	if e.ctx.Err() != nil {
		return
	}
	if old, ok := e.actionTimers[key]; ok && old.cancel != nil {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.timerSeq++
	tm.seq = e.timerSeq
	tm.cancel = cancel
	tm.started = e.opts.Now()
	e.actionTimers[key] = tm
	e.metrics.setTimers(len(e.actionTimers), len(e.triggerTimers))

	e.logger.Debug("Action timer started",
		zap.String("rule_id", key.RuleID),
		zap.String("device", key.Device),
		zap.Int("action", key.Index),
		zap.Stringer("phase", tm.phase),
		zap.Duration("delay", tm.delay))

	go e.runActionTimer(ctx, key, tm.seq, tm.delay)
}

// dropActionTimer cancels and forgets the timer under key. Called with e.mu held.
func (e *Engine) dropActionTimer(key timerKey) {
	if tm, ok := e.actionTimers[key]; ok {
		tm.cancel()
		delete(e.actionTimers, key)
		e.metrics.setTimers(len(e.actionTimers), len(e.triggerTimers))
	}
}

func (e *Engine) runActionTimer(ctx context.Context, key timerKey, seq uint64, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	e.actionTimerFired(key, seq)
}

func (e *Engine) actionTimerFired(key timerKey, seq uint64) {
	e.mu.Lock()
	tm, ok := e.actionTimers[key]
	if !ok || tm.seq != seq {
		// superseded or cancelled while the goroutine was waking up
		e.mu.Unlock()
		return
	}

	var effects []effect
	switch tm.phase {
	case phaseDelayOn:
		effects = append(effects, effect{ruleID: key.RuleID, ruleName: tm.ruleName, device: key.Device, action: tm.action})
		timing := tm.action.Timing()
		if timing.DelayOff > timing.DelayOn && tm.action.Reversible() {
			e.armActionTimer(key, &actionTimer{
				phase:    phaseDelayOff,
				delay:    timing.DelayOff - timing.DelayOn,
				action:   tm.action,
				ruleName: tm.ruleName,
			})
		} else {
			e.dropActionTimer(key)
		}
	case phaseDelayOff:
		e.dropActionTimer(key)
		if relay, ok := tm.action.(*automation.RelayAction); ok {
			effects = append(effects, effect{ruleID: key.RuleID, ruleName: tm.ruleName, device: key.Device, action: relay.Inverse()})
		}
	}

	e.logger.Info("Action timer elapsed",
		zap.String("rule_id", key.RuleID),
		zap.String("device", key.Device),
		zap.Int("action", key.Index),
		zap.Stringer("phase", tm.phase))
	e.commit(effects)
}

// cancelRuleTimers drops every action and trigger timer of a rule.
// Called with e.mu held.
func (e *Engine) cancelRuleTimers(ruleID string) {
	for key := range e.actionTimers {
		if key.RuleID == ruleID {
			e.dropActionTimer(key)
		}
	}
	for key := range e.triggerTimers {
		if key.RuleID == ruleID {
			e.dropTriggerTimer(key)
		}
	}
}
