package mqtt

import (
	"fmt"
	"os"
	"testing"
	"time"

	"relaygate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceKey(t *testing.T) {
	assert.Equal(t, "door", ParseDeviceKey("devices/door/state"))
	assert.Equal(t, "", ParseDeviceKey("modular"))
}

// Runs against a real broker when TEST_MQTT_BROKER is set, e.g. tcp://localhost:1883
func TestClient_PublishSubscribe(t *testing.T) {
	broker := os.Getenv("TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("TEST_MQTT_BROKER not set")
	}

	c, err := NewClient(Options{
		Broker:   broker,
		ClientID: fmt.Sprintf("relaygate-test-%d", time.Now().UnixNano()),
		QoS:      1,
	}, nil)
	require.NoError(t, err)
	defer c.Disconnect(100 * time.Millisecond)
	require.True(t, c.IsConnected())

	topic := fmt.Sprintf("relaygate/test/%d", time.Now().UnixNano())
	received := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(topic, func(_ string, payload []byte) {
		received <- payload
	}))

	require.NoError(t, c.Publish(topic, []byte(`{"drycontactInput1": true}`)))
	select {
	case payload := <-received:
		assert.JSONEq(t, `{"drycontactInput1": true}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	require.NoError(t, c.Unsubscribe(topic))

	c.Disconnect(100 * time.Millisecond)
	assert.ErrorIs(t, c.Publish(topic, []byte(`{}`)), models.ErrNotConnected)
}
