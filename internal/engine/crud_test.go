package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCrud(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	body, err := json.Marshal(doorRule(relay(2)))
	require.NoError(t, err)

	resp := e.HandleCrud(ctx, "automation/add", body)
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, OpAdd, resp.Op)
	require.NotNil(t, resp.Rule)
	id := resp.Rule.ID

	resp = e.HandleCrud(ctx, "automation/get", nil)
	assert.True(t, resp.Success)
	require.Len(t, resp.Rules, 1)

	resp.Rules[0].Name = "Renamed"
	body, err = json.Marshal(resp.Rules[0])
	require.NoError(t, err)
	resp = e.HandleCrud(ctx, "automation/set", body)
	assert.True(t, resp.Success, resp.Message)
	assert.Equal(t, "Renamed", resp.Rule.Name)

	resp = e.HandleCrud(ctx, "automation/delete", []byte(`{"id": "`+id+`"}`))
	assert.True(t, resp.Success, resp.Message)

	resp = e.HandleCrud(ctx, "automation/delete", []byte(`"`+id+`"`))
	assert.False(t, resp.Success)
}

func TestHandleCrud_BareDeleteID(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	id := addRule(t, e, doorRule(relay(2)))

	resp := e.HandleCrud(context.Background(), "automation/delete", []byte(id))
	assert.True(t, resp.Success, resp.Message)
	assert.Empty(t, e.GetRules())
}

func TestHandleCrud_Failures(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	resp := e.HandleCrud(ctx, "automation/add", []byte(`{broken`))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "invalid rule body")

	resp = e.HandleCrud(ctx, "automation/add", []byte(`{"name": ""}`))
	assert.False(t, resp.Success)

	resp = e.HandleCrud(ctx, "automation/set", []byte(`{"id": "nope", "name": "x"}`))
	assert.False(t, resp.Success)

	resp = e.HandleCrud(ctx, "automation/delete", []byte(``))
	assert.False(t, resp.Success)
	assert.Equal(t, "rule id is required", resp.Message)

	resp = e.HandleCrud(ctx, "automation/rename", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown operation rename", resp.Message)
}

func TestCrudOverTransport(t *testing.T) {
	e, ft := newTestEngine(t, Options{})

	body, err := json.Marshal(doorRule(relay(2)))
	require.NoError(t, err)
	require.True(t, ft.deliver("automation/add", body))

	assert.Eventually(t, func() bool { return len(ft.messages("automation/response")) == 1 }, time.Second, 10*time.Millisecond)
	var resp CrudResponse
	require.NoError(t, json.Unmarshal(ft.messages("automation/response")[0].Payload, &resp))
	assert.Equal(t, OpAdd, resp.Op)
	assert.True(t, resp.Success)
	assert.Equal(t, "Rule added successfully", resp.Message)

	assert.Len(t, e.GetRules(), 1)
	assert.True(t, ft.subscribed(doorTopic))
}
