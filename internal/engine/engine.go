package engine

import (
	"context"
	"sync"
	"time"

	"relaygate/internal/automation"
	"relaygate/internal/models"

	"go.uber.org/zap"
)

// MessageHandler receives a message delivered on a subscribed topic
type MessageHandler = func(topic string, payload []byte)

// Transport is the publish/subscribe bus the engine runs on
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topics ...string) error
	IsConnected() bool
}

// Notifier delivers send_message actions
type Notifier interface {
	Send(ctx context.Context, n models.Notification) error
}

// Repository persists rule definitions
type Repository interface {
	LoadRules(ctx context.Context) ([]models.Rule, error)
	SaveRule(ctx context.Context, rule models.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// StateMirror keeps a copy of the latest device snapshots outside the process
type StateMirror interface {
	Save(ctx context.Context, key string, record models.DeviceRecord) error
	LoadAll(ctx context.Context) (models.DeviceState, error)
}

// Options configures an Engine
type Options struct {
	Transport  Transport
	Notifier   Notifier
	Repository Repository
	Mirror     StateMirror
	Logger     *zap.Logger
	Metrics    *Metrics

	GatewayMAC    string
	ProtocolType  string
	DefaultDevice string
	ControlTopic  string
	CrudPrefix    string

	// CancelStaleTimers cancels a (rule, device)'s pending action timers on its
	// deactivation edge. When false, timers run to completion once started.
	CancelStaleTimers bool

	NotifyTimeout time.Duration
	Now           func() time.Time
}

type ruleEntry struct {
	def      models.Rule
	compiled *automation.CompiledRule
}

type activationKey struct {
	RuleID string
	Device string
}

// Engine is the automation rule engine
type Engine struct {
	opts      Options
	logger    *zap.Logger
	metrics   *Metrics
	evaluator *automation.Evaluator
	subs      *SubscriptionManager

	// crudMu serializes rule mutations end to end (persist, store, subscriptions)
	crudMu sync.Mutex

	// mu guards everything below
	mu            sync.Mutex
	rules         map[string]*ruleEntry
	order         []string
	state         models.DeviceState
	active        map[activationKey]bool
	actionTimers  map[timerKey]*actionTimer
	triggerTimers map[dwellKey]*triggerTimer
	timerSeq      uint64
	ctx           context.Context
	cancel        context.CancelFunc

	// dispatch feeds the single goroutine that executes effects
	dispatch chan dispatchBatch
	mirror   *mirrorWriter
	workers  sync.WaitGroup
}

// NewEngine creates a new engine instance
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProtocolType == "" {
		opts.ProtocolType = DefaultProtocolType
	}
	if opts.ControlTopic == "" {
		opts.ControlTopic = DefaultControlTopic
	}
	if opts.CrudPrefix == "" {
		opts.CrudPrefix = DefaultCrudPrefix
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	logger := opts.Logger.Named("engine")

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:          opts,
		logger:        logger,
		metrics:       opts.Metrics,
		evaluator:     automation.NewEvaluator(logger.Named("evaluator")),
		rules:         make(map[string]*ruleEntry),
		state:         make(models.DeviceState),
		active:        make(map[activationKey]bool),
		actionTimers:  make(map[timerKey]*actionTimer),
		triggerTimers: make(map[dwellKey]*triggerTimer),
		ctx:           ctx,
		cancel:        cancel,
		dispatch:      make(chan dispatchBatch, dispatchQueueSize),
	}
	e.subs = NewSubscriptionManager(opts.Transport, e.onTelemetry, logger.Named("subscriptions"))

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		e.runDispatcher(ctx)
	}()
	if opts.Mirror != nil {
		e.mirror = newMirrorWriter(opts.Mirror, logger.Named("mirror"))
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			e.mirror.run(ctx)
		}()
	}
	return e
}

// Start loads rules and state, then subscribes to the CRUD and telemetry topics
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.Repository != nil {
		e.logger.Info("Loading rules from repository")
		if err := e.ReloadRules(ctx); err != nil {
			e.logger.Error("Error loading rules", zap.Error(err))
			return err
		}
	}

	if e.opts.Mirror != nil {
		snapshot, err := e.opts.Mirror.LoadAll(ctx)
		if err != nil {
			// a cold state store only delays the first evaluation
			e.logger.Warn("Could not warm device state from mirror", zap.Error(err))
		} else {
			e.mu.Lock()
			for key, record := range snapshot {
				e.state[key] = record
			}
			e.mu.Unlock()
			e.logger.Info("Device state warmed from mirror", zap.Int("devices", len(snapshot)))
		}
	}

	if e.opts.Transport != nil {
		if err := e.subscribeCrud(); err != nil {
			return err
		}
	}

	e.reconcileSubscriptions()
	e.logger.Info("Engine started", zap.Int("rules", e.RuleCount()))
	return nil
}

// Stop cancels every pending timer and waits for the dispatcher and the
// mirror writer to exit. Effects still queued are dropped; call Flush first
// to deliver them.
func (e *Engine) Stop() {
	e.cancel()
	e.workers.Wait()

	e.mu.Lock()
	e.actionTimers = make(map[timerKey]*actionTimer)
	e.triggerTimers = make(map[dwellKey]*triggerTimer)
	e.metrics.setTimers(0, 0)
	e.mu.Unlock()
	e.logger.Info("Engine stopped")
}

// Subscriptions exposes the topic subscription manager
func (e *Engine) Subscriptions() *SubscriptionManager {
	return e.subs
}

// DeviceState returns a copy of the latest snapshot for a device key
func (e *Engine) DeviceState(key string) (models.DeviceRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.state[key]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// IsActive reports the tracked activation state of a rule for a device
func (e *Engine) IsActive(ruleID, device string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[activationKey{RuleID: ruleID, Device: device}]
}

// PendingTimers returns the number of tracked action and trigger timers
func (e *Engine) PendingTimers() (actions, triggers int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actionTimers), len(e.triggerTimers)
}

// RuleCount returns the number of rules in the store
func (e *Engine) RuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// commit queues effects for the dispatcher in decision order.
// It must be called with e.mu held and releases it.
func (e *Engine) commit(effects []effect) {
	defer e.mu.Unlock()
	if len(effects) == 0 {
		return
	}
	e.enqueue(dispatchBatch{effects: effects})
}
