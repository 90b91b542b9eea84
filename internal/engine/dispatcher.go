package engine

import (
	"context"
	"encoding/json"

	"relaygate/internal/automation"
	"relaygate/internal/models"

	"go.uber.org/zap"
)

// Defaults for the control egress
const (
	DefaultProtocolType = "Modular"
	DefaultControlTopic = "modular"
	DefaultCrudPrefix   = "automation"
	FunctionWrite       = "write"
	TimestampLayout     = "2006-01-02 15:04:05"
)

// RelayValue is the pin/data pair of a relay write
type RelayValue struct {
	Pin  int `json:"pin"`
	Data int `json:"data"`
}

// RelayCommand is the relay-write record understood by the field firmware.
// Field order is part of the wire format.
type RelayCommand struct {
	MAC          string     `json:"mac"`
	ProtocolType string     `json:"protocol_type"`
	Device       string     `json:"device"`
	Function     string     `json:"function"`
	Value        RelayValue `json:"value"`
	Address      int        `json:"address"`
	DeviceBus    int        `json:"device_bus"`
	Timestamp    string     `json:"Timestamp"`
}

// effect is an action execution decided by the engine
type effect struct {
	ruleID   string
	ruleName string
	device   string
	action   automation.Action
}

// dispatchQueueSize bounds the effect batches waiting for the dispatcher
const dispatchQueueSize = 256

// dispatchBatch is the unit handed to the dispatcher; done, when set, is
// closed once every batch queued before it has been executed
type dispatchBatch struct {
	effects []effect
	done    chan struct{}
}

// enqueue hands b to the dispatcher. Called with e.mu held so batches keep
// the order in which they were decided.
func (e *Engine) enqueue(b dispatchBatch) bool {
	if e.ctx.Err() == nil {
		select {
		case e.dispatch <- b:
			return true
		case <-e.ctx.Done():
		}
	}
	for _, eff := range b.effects {
		e.metrics.actionDropped(eff.action.Kind(), "stopped")
	}
	return false
}

// runDispatcher executes queued effects one batch at a time until ctx ends
func (e *Engine) runDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-e.dispatch:
			for _, eff := range b.effects {
				e.execute(eff)
			}
			if b.done != nil {
				close(b.done)
			}
		}
	}
}

// Flush waits until every effect decided before the call has been executed
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	e.mu.Lock()
	ok := e.enqueue(dispatchBatch{done: done})
	e.mu.Unlock()
	if !ok {
		return e.ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// BuildRelayCommand renders a relay action into the control record
func (e *Engine) BuildRelayCommand(a *automation.RelayAction) RelayCommand {
	protocol := a.ProtocolType
	if protocol == "" {
		protocol = e.opts.ProtocolType
	}
	device := a.Device
	if device == "" {
		device = e.opts.DefaultDevice
	}
	data := 0
	if a.Value {
		data = 1
	}
	return RelayCommand{
		MAC:          e.opts.GatewayMAC,
		ProtocolType: protocol,
		Device:       device,
		Function:     FunctionWrite,
		Value:        RelayValue{Pin: a.Pin, Data: data},
		Address:      a.Address,
		DeviceBus:    a.DeviceBus,
		Timestamp:    e.opts.Now().Format(TimestampLayout),
	}
}

// execute runs one effect; failures are logged and dropped
func (e *Engine) execute(eff effect) {
	switch a := eff.action.(type) {
	case *automation.RelayAction:
		e.publishRelay(eff, a)
	case *automation.MessageAction:
		e.sendMessage(eff, a)
	}
}

func (e *Engine) publishRelay(eff effect, a *automation.RelayAction) {
	log := e.logger.With(
		zap.String("rule_id", eff.ruleID),
		zap.String("device", eff.device),
		zap.Int("pin", a.Pin),
		zap.Bool("value", a.Value))

	if e.opts.Transport == nil || !e.opts.Transport.IsConnected() {
		log.Warn("Transport not connected, dropping relay command")
		e.metrics.actionDropped(a.Kind(), "not_connected")
		return
	}

	payload, err := json.Marshal(e.BuildRelayCommand(a))
	if err != nil {
		log.Error("Failed to encode relay command", zap.Error(err))
		e.metrics.actionDropped(a.Kind(), "encode")
		return
	}
	if err := e.opts.Transport.Publish(e.opts.ControlTopic, payload); err != nil {
		log.Warn("Failed to publish relay command", zap.Error(err))
		e.metrics.actionDropped(a.Kind(), "publish")
		return
	}
	log.Info("Relay command published", zap.String("topic", e.opts.ControlTopic), zap.ByteString("payload", payload))
	e.metrics.actionExecuted(a.Kind())
}

func (e *Engine) sendMessage(eff effect, a *automation.MessageAction) {
	log := e.logger.With(
		zap.String("rule_id", eff.ruleID),
		zap.String("device", eff.device),
		zap.String("recipient", a.Recipient))

	if e.opts.Notifier == nil {
		log.Warn("No notifier configured, dropping message")
		e.metrics.actionDropped(a.Kind(), "no_notifier")
		return
	}

	n := models.Notification{
		Recipient:  a.Recipient,
		TemplateID: a.TemplateID,
		Text:       a.Render(eff.ruleName, eff.device, e.opts.Now()),
	}
	// fire and forget; the notification API is never retried
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.NotifyTimeout)
		defer cancel()
		if err := e.opts.Notifier.Send(ctx, n); err != nil {
			log.Warn("Notification failed", zap.Error(err))
			e.metrics.actionDropped(a.Kind(), "notify")
			return
		}
		log.Info("Notification sent")
		e.metrics.actionExecuted(a.Kind())
	}()
}
