package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"relaygate/internal/models"
)

type publishedMessage struct {
	Topic   string
	Payload []byte
}

type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	published    []publishedMessage
	handlers     map[string]MessageHandler
	unsubscribed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, handlers: make(map[string]MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return models.ErrNotConnected
	}
	f.published = append(f.published, publishedMessage{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
		f.unsubscribed = append(f.unsubscribed, topic)
	}
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

func (f *fakeTransport) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

// deliver hands a message to the subscribed handler, as the broker would
func (f *fakeTransport) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(topic, payload)
	}
	return ok
}

func (f *fakeTransport) messages(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// relayWrites decodes every relay command published on the control topic
func (f *fakeTransport) relayWrites(t *testing.T) []RelayValue {
	t.Helper()
	var out []RelayValue
	for _, m := range f.messages(DefaultControlTopic) {
		var cmd RelayCommand
		if err := json.Unmarshal(m.Payload, &cmd); err != nil {
			t.Fatalf("bad relay command %s: %v", m.Payload, err)
		}
		out = append(out, cmd.Value)
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) messages() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

type fakeRepository struct {
	mu      sync.Mutex
	rules   map[string]models.Rule
	order   []string
	saveErr error
}

func newFakeRepository(rules ...models.Rule) *fakeRepository {
	r := &fakeRepository{rules: make(map[string]models.Rule)}
	for _, rule := range rules {
		r.rules[rule.ID] = rule
		r.order = append(r.order, rule.ID)
	}
	return r
}

func (r *fakeRepository) LoadRules(context.Context) ([]models.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out, nil
}

func (r *fakeRepository) SaveRule(_ context.Context, rule models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.rules[rule.ID]; !ok {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule
	return nil
}

func (r *fakeRepository) DeleteRule(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return models.ErrRuleNotFound
	}
	delete(r.rules, id)
	for i, rid := range r.order {
		if rid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *fakeRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules)
}

type fakeMirror struct {
	mu     sync.Mutex
	state  models.DeviceState
	writes map[string][]models.DeviceRecord
	fail   bool
}

func (m *fakeMirror) Save(_ context.Context, key string, record models.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(models.DeviceState)
	}
	if m.writes == nil {
		m.writes = make(map[string][]models.DeviceRecord)
	}
	m.state[key] = record
	m.writes[key] = append(m.writes[key], record)
	return nil
}

// history returns every snapshot written for key, oldest first
func (m *fakeMirror) history(key string) []models.DeviceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DeviceRecord(nil), m.writes[key]...)
}

func (m *fakeMirror) LoadAll(context.Context) (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("redis down")
	}
	out := make(models.DeviceState, len(m.state))
	for k, v := range m.state {
		out[k] = v.Clone()
	}
	return out, nil
}

func (m *fakeMirror) get(key string) (models.DeviceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state[key]
	return r, ok
}

// gatedTransport holds every publish until gate is closed, like a broker
// that is slow to acknowledge
type gatedTransport struct {
	*fakeTransport
	gate chan struct{}
}

func (g *gatedTransport) Publish(topic string, payload []byte) error {
	<-g.gate
	return g.fakeTransport.Publish(topic, payload)
}
