package engine

import (
	"context"
	"time"

	"relaygate/internal/automation"

	"go.uber.org/zap"
)

// dwellKey identifies the dwell timer of one trigger for one device
type dwellKey struct {
	RuleID string
	Device string
	Group  int
	Index  int
}

type triggerTimer struct {
	started time.Time
	delay   time.Duration
	elapsed bool
	seq     uint64
	cancel  context.CancelFunc
}

// dwellFor returns the dwell filter used while evaluating rule for device.
// The returned func runs with e.mu held.
func (e *Engine) dwellFor(rule *automation.CompiledRule, device string) automation.DwellFunc {
	return func(ref automation.TriggerRef, raw bool) bool {
		key := dwellKey{RuleID: rule.ID, Device: device, Group: ref.Group, Index: ref.Index}
		tm, ok := e.triggerTimers[key]
		if !raw {
			if ok {
				e.logger.Debug("Trigger condition reversed, dropping dwell timer",
					zap.String("rule_id", rule.ID),
					zap.String("device", device),
					zap.Int("group", ref.Group),
					zap.Int("trigger", ref.Index))
				e.dropTriggerTimer(key)
			}
			return false
		}
		if ok {
			return tm.elapsed
		}
		e.armTriggerTimer(key, ref.Trigger.Delay())
		return false
	}
}

// armTriggerTimer starts a dwell timer. Called with e.mu held.
func (e *Engine) armTriggerTimer(key dwellKey, delay time.Duration) {
	if e.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.timerSeq++
	tm := &triggerTimer{
		started: e.opts.Now(),
		delay:   delay,
		seq:     e.timerSeq,
		cancel:  cancel,
	}
	e.triggerTimers[key] = tm
	e.metrics.setTimers(len(e.actionTimers), len(e.triggerTimers))

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		e.triggerTimerFired(key, tm.seq)
	}()
}

// dropTriggerTimer cancels and forgets a dwell timer. Called with e.mu held.
func (e *Engine) dropTriggerTimer(key dwellKey) {
	if tm, ok := e.triggerTimers[key]; ok {
		tm.cancel()
		delete(e.triggerTimers, key)
		e.metrics.setTimers(len(e.actionTimers), len(e.triggerTimers))
	}
}

// triggerTimerFired marks the dwell as satisfied and re-evaluates the rule
// against the device's current snapshot.
func (e *Engine) triggerTimerFired(key dwellKey, seq uint64) {
	e.mu.Lock()
	tm, ok := e.triggerTimers[key]
	if !ok || tm.seq != seq || tm.elapsed {
		e.mu.Unlock()
		return
	}
	tm.elapsed = true

	entry, ok := e.rules[key.RuleID]
	if !ok || !entry.compiled.Enabled {
		e.mu.Unlock()
		return
	}
	e.logger.Debug("Trigger dwell elapsed, re-evaluating",
		zap.String("rule_id", key.RuleID),
		zap.String("device", key.Device))
	effects := e.evaluateRule(entry.compiled, key.Device)
	e.commit(effects)
}
