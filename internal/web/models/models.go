package models

import "encoding/json"

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeviceStateResponse carries the latest snapshot of one device
type DeviceStateResponse struct {
	Key   string          `json:"key"`
	State json.RawMessage `json:"state"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqtt_connected"`
	Rules         int    `json:"rules"`
}
