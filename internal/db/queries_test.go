package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"relaygate/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres when TEST_DATABASE_URL is set
func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.EnsureSchema(ctx))
	return d
}

func TestRuleRepository(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rule := models.Rule{
		ID:   uuid.NewString(),
		Name: "Door opens pump",
		TriggerGroups: []models.TriggerGroup{{GroupOperator: "AND", Triggers: []models.Trigger{
			{DeviceTopic: "devices/door", TriggerType: "drycontact", PinNumber: 1},
		}}},
		Actions:   []models.Action{{ActionType: models.ActionControlRelay, Pin: 2}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, d.SaveRule(ctx, rule))
	t.Cleanup(func() { _ = d.DeleteRule(context.Background(), rule.ID) })

	rule.Name = "Renamed"
	rule.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, d.SaveRule(ctx, rule))

	rules, err := d.LoadRules(ctx)
	require.NoError(t, err)
	var found *models.Rule
	for i := range rules {
		if rules[i].ID == rule.ID {
			found = &rules[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Renamed", found.Name)
	assert.Equal(t, "devices/door", found.TriggerGroups[0].Triggers[0].DeviceTopic)
	assert.True(t, rule.UpdatedAt.Equal(found.UpdatedAt))

	require.NoError(t, d.DeleteRule(ctx, rule.ID))
	err = d.DeleteRule(ctx, rule.ID)
	assert.True(t, errors.Is(err, models.ErrRuleNotFound))
}
