package engine

import (
	"encoding/json"
	"testing"
	"time"

	"relaygate/internal/automation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRelayCommand_WireLayout(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	e := NewEngine(Options{
		GatewayMAC:    "AA:BB:CC:DD:EE:FF",
		DefaultDevice: "RELAY",
		Now:           func() time.Time { return now },
	})

	cmd := e.BuildRelayCommand(&automation.RelayAction{Address: 1, Pin: 2, Value: true})
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.Equal(t,
		`{"mac":"AA:BB:CC:DD:EE:FF","protocol_type":"Modular","device":"RELAY","function":"write","value":{"pin":2,"data":1},"address":1,"device_bus":0,"Timestamp":"2024-03-01 12:30:05"}`,
		string(payload))

	cmd = e.BuildRelayCommand(&automation.RelayAction{ProtocolType: "Modbus", Device: "DO8", DeviceBus: 2, Pin: 7})
	assert.Equal(t, "Modbus", cmd.ProtocolType)
	assert.Equal(t, "DO8", cmd.Device)
	assert.Equal(t, RelayValue{Pin: 7, Data: 0}, cmd.Value)
	assert.Equal(t, 2, cmd.DeviceBus)
}

func TestDispatch_ControlTopic(t *testing.T) {
	ft := newFakeTransport()
	e, _ := newTestEngine(t, Options{Transport: ft, ControlTopic: "site/relays"})
	addRule(t, e, doorRule(relay(2)))

	telemetry(t, e, doorTopic, door(true))
	assert.Len(t, ft.messages("site/relays"), 1)
	assert.Empty(t, ft.messages(DefaultControlTopic))
}
