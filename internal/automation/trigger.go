package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"relaygate/internal/models"
)

// Boolean condition operators
const (
	OpIs  = "is"
	OpAnd = "and"
	OpOr  = "or"
)

// Numeric condition operators
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"
	OpBetween      = "between"
)

// dryContactPrefix names the telemetry field of a dry-contact input pin
const dryContactPrefix = "drycontactInput"

// Trigger is a compiled condition bound to one device key.
// The set of implementations is closed: *BoolTrigger and *NumericTrigger.
type Trigger interface {
	DeviceKey() string
	Field() string
	Delay() time.Duration
	// Evaluate checks the condition against the device's latest record.
	// A missing record or field is false with a nil error.
	Evaluate(record models.DeviceRecord) (bool, error)
	trigger()
}

type triggerBase struct {
	deviceKey string
	field     string
	delay     time.Duration
}

func (b triggerBase) DeviceKey() string    { return b.deviceKey }
func (b triggerBase) Field() string        { return b.field }
func (b triggerBase) Delay() time.Duration { return b.delay }

// BoolTrigger compares a dry-contact style field with a boolean target
type BoolTrigger struct {
	triggerBase
	Op     string
	Target bool
}

func (*BoolTrigger) trigger() {}

// Evaluate implements Trigger
func (t *BoolTrigger) Evaluate(record models.DeviceRecord) (bool, error) {
	raw, ok := record[t.field]
	if !ok {
		return false, nil
	}
	actual := ToBool(raw)
	switch t.Op {
	case OpIs:
		return actual == t.Target, nil
	case OpAnd:
		return actual && t.Target, nil
	case OpOr:
		return actual || t.Target, nil
	}
	return false, fmt.Errorf("unsupported boolean operator %q", t.Op)
}

// NumericTrigger compares a numeric field with a scalar target or an inclusive range
type NumericTrigger struct {
	triggerBase
	Op     string
	Target float64
	Min    float64
	Max    float64
	// targetErr is set when the configured target cannot be used; the trigger is then always false
	targetErr error
}

func (*NumericTrigger) trigger() {}

// Evaluate implements Trigger
func (t *NumericTrigger) Evaluate(record models.DeviceRecord) (bool, error) {
	raw, ok := record[t.field]
	if !ok {
		return false, nil
	}
	actual, err := ToFloat(raw)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", t.field, err)
	}
	if t.targetErr != nil {
		return false, t.targetErr
	}
	switch t.Op {
	case OpEquals:
		return actual == t.Target, nil
	case OpNotEquals:
		return actual != t.Target, nil
	case OpGreaterThan:
		return actual > t.Target, nil
	case OpLessThan:
		return actual < t.Target, nil
	case OpGreaterEqual:
		return actual >= t.Target, nil
	case OpLessEqual:
		return actual <= t.Target, nil
	case OpBetween:
		return actual >= t.Min && actual <= t.Max, nil
	}
	return false, fmt.Errorf("unsupported numeric operator %q", t.Op)
}

// ToBool coerces a telemetry value: non-zero numbers and "true|1|on|high" are true
func ToBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "on", "high":
			return true
		}
		return false
	case nil:
		return false
	}
	if f, err := ToFloat(v); err == nil {
		return f != 0
	}
	return false
}

// ToFloat coerces a telemetry value to float64
func ToFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		if math.IsNaN(f) {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v (%T)", v, v)
}

// parseRange reads a two-element [min, max] target
func parseRange(raw json.RawMessage) (float64, float64, error) {
	var bounds []interface{}
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return 0, 0, fmt.Errorf("between target must be [min, max]: %w", err)
	}
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("between target must have 2 elements, got %d", len(bounds))
	}
	lo, err := ToFloat(bounds[0])
	if err != nil {
		return 0, 0, fmt.Errorf("between min: %w", err)
	}
	hi, err := ToFloat(bounds[1])
	if err != nil {
		return 0, 0, fmt.Errorf("between max: %w", err)
	}
	return lo, hi, nil
}

// parseScalar reads a scalar numeric target
func parseScalar(raw json.RawMessage) (float64, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("numeric target: %w", err)
	}
	return ToFloat(v)
}
