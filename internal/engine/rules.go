package engine

import (
	"context"
	"errors"
	"fmt"

	"relaygate/internal/automation"
	"relaygate/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetRules returns the full current rule set in insertion order
func (e *Engine) GetRules() []models.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := make([]models.Rule, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.rules[id].def.Clone())
	}
	return rules
}

// GetRule returns one rule by id
func (e *Engine) GetRule(id string) (models.Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.rules[id]
	if !ok {
		return models.Rule{}, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
	}
	return entry.def.Clone(), nil
}

// AddRule assigns a new id and creation timestamp, stores and persists the rule
func (e *Engine) AddRule(ctx context.Context, rule models.Rule) models.Result {
	e.crudMu.Lock()
	defer e.crudMu.Unlock()

	now := e.opts.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	compiled, err := automation.Compile(rule)
	if err != nil {
		e.logger.Warn("Rejected rule", zap.String("rule", rule.Name), zap.Error(err))
		return failure(err)
	}
	e.warnLegacyKeys(compiled)

	if e.opts.Repository != nil {
		if err := e.opts.Repository.SaveRule(ctx, rule); err != nil {
			e.logger.Error("Error saving rule", zap.String("rule_id", rule.ID), zap.Error(err))
			return failure(fmt.Errorf("failed to save rule: %w", err))
		}
	}

	e.mu.Lock()
	e.rules[rule.ID] = &ruleEntry{def: rule.Clone(), compiled: compiled}
	e.order = append(e.order, rule.ID)
	e.metrics.setRules(len(e.order))
	e.mu.Unlock()

	e.reconcileSubscriptions()
	e.logger.Info("Rule added", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name))
	return models.Result{Success: true, Message: "Rule added successfully", Rule: &rule}
}

// SetRule replaces the rule with the same id. The rule's activation state and
// timers are reset.
func (e *Engine) SetRule(ctx context.Context, rule models.Rule) models.Result {
	e.crudMu.Lock()
	defer e.crudMu.Unlock()

	if rule.ID == "" {
		return failure(fmt.Errorf("%w: id is required", models.ErrInvalidRule))
	}

	e.mu.Lock()
	existing, ok := e.rules[rule.ID]
	e.mu.Unlock()
	if !ok {
		return failure(fmt.Errorf("%w: %s", models.ErrRuleNotFound, rule.ID))
	}

	rule.CreatedAt = existing.def.CreatedAt
	rule.UpdatedAt = e.opts.Now().UTC()

	compiled, err := automation.Compile(rule)
	if err != nil {
		e.logger.Warn("Rejected rule update", zap.String("rule_id", rule.ID), zap.Error(err))
		return failure(err)
	}
	e.warnLegacyKeys(compiled)

	if e.opts.Repository != nil {
		if err := e.opts.Repository.SaveRule(ctx, rule); err != nil {
			e.logger.Error("Error saving rule", zap.String("rule_id", rule.ID), zap.Error(err))
			return failure(fmt.Errorf("failed to save rule: %w", err))
		}
	}

	e.mu.Lock()
	e.clearRuleState(rule.ID)
	e.rules[rule.ID] = &ruleEntry{def: rule.Clone(), compiled: compiled}
	e.mu.Unlock()

	e.reconcileSubscriptions()
	e.logger.Info("Rule updated", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name))
	return models.Result{Success: true, Message: "Rule updated successfully", Rule: &rule}
}

// DeleteRule removes a rule, its activation state and its timers
func (e *Engine) DeleteRule(ctx context.Context, id string) models.Result {
	e.crudMu.Lock()
	defer e.crudMu.Unlock()

	e.mu.Lock()
	_, ok := e.rules[id]
	e.mu.Unlock()
	if !ok {
		return failure(fmt.Errorf("%w: %s", models.ErrRuleNotFound, id))
	}

	if e.opts.Repository != nil {
		if err := e.opts.Repository.DeleteRule(ctx, id); err != nil && !errors.Is(err, models.ErrRuleNotFound) {
			e.logger.Error("Error deleting rule", zap.String("rule_id", id), zap.Error(err))
			return failure(fmt.Errorf("failed to delete rule: %w", err))
		}
	}

	e.mu.Lock()
	e.clearRuleState(id)
	delete(e.rules, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.metrics.setRules(len(e.order))
	e.metrics.forgetRule(id)
	e.mu.Unlock()

	e.reconcileSubscriptions()
	e.logger.Info("Rule deleted", zap.String("rule_id", id))
	return models.Result{Success: true, Message: "Rule deleted successfully"}
}

// ReloadRules replaces the rule store with the repository's content.
// Rules that fail to compile are skipped; rules that changed or vanished lose
// their activation state and timers.
func (e *Engine) ReloadRules(ctx context.Context) error {
	if e.opts.Repository == nil {
		return nil
	}
	e.crudMu.Lock()
	defer e.crudMu.Unlock()

	defs, err := e.opts.Repository.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	entries := make(map[string]*ruleEntry, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		compiled, err := automation.Compile(def)
		if err != nil {
			e.logger.Warn("Skipping invalid stored rule", zap.String("rule_id", def.ID), zap.Error(err))
			continue
		}
		if def.ID == "" {
			e.logger.Warn("Skipping stored rule without id", zap.String("rule", def.Name))
			continue
		}
		if _, dup := entries[def.ID]; dup {
			e.logger.Warn("Skipping duplicate stored rule", zap.String("rule_id", def.ID))
			continue
		}
		e.warnLegacyKeys(compiled)
		entries[def.ID] = &ruleEntry{def: def.Clone(), compiled: compiled}
		order = append(order, def.ID)
	}

	e.mu.Lock()
	for id, old := range e.rules {
		next, ok := entries[id]
		if !ok || !next.def.UpdatedAt.Equal(old.def.UpdatedAt) {
			e.clearRuleState(id)
		}
		if !ok {
			e.metrics.forgetRule(id)
		}
	}
	e.rules = entries
	e.order = order
	e.metrics.setRules(len(order))
	e.mu.Unlock()

	e.reconcileSubscriptions()
	e.logger.Info("Rules loaded", zap.Int("count", len(order)), zap.Int("skipped", len(defs)-len(order)))
	return nil
}

// reconcileSubscriptions recomputes per-topic reference counts from the
// enabled rules and hands them to the subscription manager
func (e *Engine) reconcileSubscriptions() {
	e.mu.Lock()
	refs := make(map[string]int)
	for _, id := range e.order {
		compiled := e.rules[id].compiled
		if !compiled.Enabled {
			continue
		}
		for _, topic := range compiled.Topics() {
			refs[topic]++
		}
	}
	e.mu.Unlock()
	e.subs.Reconcile(refs)
}

func (e *Engine) warnLegacyKeys(compiled *automation.CompiledRule) {
	for _, key := range compiled.LegacyKeys {
		e.logger.Warn("Trigger bound by device_name; set device_topic",
			zap.String("rule_id", compiled.ID),
			zap.String("device_key", key))
	}
}

func failure(err error) models.Result {
	return models.Result{Success: false, Message: err.Error(), Err: err}
}
