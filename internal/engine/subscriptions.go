package engine

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SubscriptionManager keeps the transport subscribed to exactly the device
// topics referenced by the enabled rules. Topics are reference counted and
// unsubscribed once no rule needs them.
type SubscriptionManager struct {
	transport Transport
	handler   MessageHandler
	logger    *zap.Logger

	mu         sync.Mutex
	refs       map[string]int
	subscribed map[string]bool
}

// NewSubscriptionManager creates a manager delivering device topics to handler
func NewSubscriptionManager(transport Transport, handler MessageHandler, logger *zap.Logger) *SubscriptionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionManager{
		transport:  transport,
		handler:    handler,
		logger:     logger,
		refs:       make(map[string]int),
		subscribed: make(map[string]bool),
	}
}

// Reconcile applies new reference counts: topics going from zero to some
// reference are subscribed, topics dropping to zero are unsubscribed
func (m *SubscriptionManager) Reconcile(refs map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs = make(map[string]int, len(refs))
	for topic, n := range refs {
		if n > 0 {
			m.refs[topic] = n
		}
	}
	if m.transport == nil {
		return
	}

	for _, topic := range sortedKeys(m.refs) {
		if m.subscribed[topic] {
			continue
		}
		if err := m.transport.Subscribe(topic, m.handler); err != nil {
			// left unsubscribed; the next reconcile or resync retries
			m.logger.Warn("Failed to subscribe device topic", zap.String("topic", topic), zap.Error(err))
			continue
		}
		m.subscribed[topic] = true
		m.logger.Info("Subscribed device topic", zap.String("topic", topic), zap.Int("rules", m.refs[topic]))
	}

	var stale []string
	for topic := range m.subscribed {
		if m.refs[topic] == 0 {
			stale = append(stale, topic)
		}
	}
	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)
	if err := m.transport.Unsubscribe(stale...); err != nil {
		m.logger.Warn("Failed to unsubscribe device topics", zap.Strings("topics", stale), zap.Error(err))
		return
	}
	for _, topic := range stale {
		delete(m.subscribed, topic)
	}
	m.logger.Info("Unsubscribed device topics", zap.Strings("topics", stale))
}

// Resync re-issues a subscription for every referenced topic
func (m *SubscriptionManager) Resync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil {
		return
	}
	for _, topic := range sortedKeys(m.refs) {
		if err := m.transport.Subscribe(topic, m.handler); err != nil {
			m.logger.Warn("Failed to resubscribe device topic", zap.String("topic", topic), zap.Error(err))
			delete(m.subscribed, topic)
			continue
		}
		m.subscribed[topic] = true
	}
	m.logger.Debug("Subscriptions resynced", zap.Int("topics", len(m.subscribed)))
}

// Topics returns the currently subscribed device topics, sorted
func (m *SubscriptionManager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.subscribed))
	for topic := range m.subscribed {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// RefCount returns how many enabled rules reference topic
func (m *SubscriptionManager) RefCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[topic]
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
