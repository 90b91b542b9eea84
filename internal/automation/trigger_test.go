package automation

import (
	"encoding/json"
	"testing"

	"relaygate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numeric(op, target string) *NumericTrigger {
	nt := &NumericTrigger{triggerBase: triggerBase{deviceKey: "d", field: "temperature"}, Op: op}
	if op == OpBetween {
		nt.Min, nt.Max, nt.targetErr = parseRange(json.RawMessage(target))
	} else {
		nt.Target, nt.targetErr = parseScalar(json.RawMessage(target))
	}
	return nt
}

func TestNumericTrigger_Evaluate(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		target string
		value  interface{}
		want   bool
	}{
		{"between inside", OpBetween, "[18, 25]", 20.0, true},
		{"between lower bound", OpBetween, "[18, 25]", 18.0, true},
		{"between upper bound", OpBetween, "[18, 25]", 25.0, true},
		{"between above", OpBetween, "[18, 25]", 30.0, false},
		{"between string bounds", OpBetween, `["18", "25"]`, "19", true},
		{"equals", OpEquals, "5", 5.0, true},
		{"equals int", OpEquals, "5", 5, true},
		{"not equals", OpNotEquals, "5", 6.0, true},
		{"greater than", OpGreaterThan, "10", 10.5, true},
		{"greater than equal value", OpGreaterThan, "10", 10.0, false},
		{"less than", OpLessThan, "10", 9.0, true},
		{"greater equal", OpGreaterEqual, "10", 10.0, true},
		{"less equal", OpLessEqual, "10", 10.0, true},
		{"string value", OpGreaterThan, "10", " 12.5 ", true},
		{"json number", OpLessThan, "10", json.Number("3"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := numeric(tt.op, tt.target).Evaluate(models.DeviceRecord{"temperature": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNumericTrigger_Errors(t *testing.T) {
	got, err := numeric(OpEquals, "5").Evaluate(models.DeviceRecord{})
	assert.NoError(t, err, "missing field is not an error")
	assert.False(t, got)

	got, err = numeric(OpEquals, "5").Evaluate(models.DeviceRecord{"temperature": "warm"})
	assert.Error(t, err)
	assert.False(t, got)

	got, err = numeric(OpEquals, `"five"`).Evaluate(models.DeviceRecord{"temperature": 5.0})
	assert.Error(t, err)
	assert.False(t, got)

	got, err = numeric(OpBetween, "[25]").Evaluate(models.DeviceRecord{"temperature": 20.0})
	assert.Error(t, err)
	assert.False(t, got)
}

func TestBoolTrigger_Evaluate(t *testing.T) {
	trig := func(op string, target bool) *BoolTrigger {
		return &BoolTrigger{triggerBase: triggerBase{deviceKey: "d", field: "drycontactInput1"}, Op: op, Target: target}
	}
	tests := []struct {
		name  string
		trig  *BoolTrigger
		value interface{}
		want  bool
	}{
		{"is true", trig(OpIs, true), true, true},
		{"is true vs false", trig(OpIs, true), false, false},
		{"is false", trig(OpIs, false), false, true},
		{"numeric one", trig(OpIs, true), 1.0, true},
		{"numeric zero", trig(OpIs, true), 0.0, false},
		{"string on", trig(OpIs, true), "ON", true},
		{"string off", trig(OpIs, true), "off", false},
		{"and", trig(OpAnd, true), true, true},
		{"and false target", trig(OpAnd, false), true, false},
		{"or", trig(OpOr, true), false, true},
		{"or both false", trig(OpOr, false), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.trig.Evaluate(models.DeviceRecord{"drycontactInput1": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := trig(OpIs, false).Evaluate(models.DeviceRecord{})
	assert.NoError(t, err)
	assert.False(t, got, "missing field is false even when the target is false")
}

func TestToFloat(t *testing.T) {
	for _, v := range []interface{}{3, int64(3), uint8(3), float32(3), "3", json.Number("3")} {
		f, err := ToFloat(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, 3.0, f)
	}
	for _, v := range []interface{}{nil, true, "abc", "NaN", []int{1}} {
		_, err := ToFloat(v)
		assert.Error(t, err, "%v", v)
	}
}
