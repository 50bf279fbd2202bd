package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBindingsJSON(t *testing.T) {
	raw := []byte(`[
		{"guild_id": "g1", "channel_id": "c1", "message_id": "m1", "emoji": "✅", "role": "r1", "toggle": true},
		{"guild_id": "g1", "channel_id": "c1", "message_id": "m1", "emoji": "42", "roles": ["r2", "r2"], "type": "just_win", "max": 3}
	]`)
	bindings, err := decodeBindings(".json", raw)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "m1:✅", bindings[0].ID)
	assert.Equal(t, []string{"r1"}, bindings[0].RoleIDs)
	assert.Equal(t, guildmodels.BindingToggle, bindings[0].Type)
	assert.Equal(t, guildmodels.BindingJustWin, bindings[1].Type)
	assert.Equal(t, []string{"r2"}, bindings[1].RoleIDs)
	assert.Equal(t, 3, bindings[1].MaxGrants)
}

func TestDecodeBindingsYAML(t *testing.T) {
	raw := []byte(`
- guild_id: "g1"
  channel_id: "c1"
  message_id: "m1"
  emoji: "✅"
  roles: ["r1"]
  requirements:
    boost: true
`)
	bindings, err := decodeBindings(".yml", raw)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.True(t, bindings[0].Requirements.Boost)
	assert.Equal(t, guildmodels.BindingNormal, bindings[0].Type)
}

func TestDecodeBindingsRejectsInvalid(t *testing.T) {
	_, err := decodeBindings(".json", []byte(`[{"guild_id": "g1", "channel_id": "c1", "message_id": "m1", "emoji": "✅"}]`))
	assert.ErrorIs(t, err, guildmodels.ErrInvalidInput)
	_, err = decodeBindings(".json", []byte(`{`))
	assert.Error(t, err)
}

func TestMergeBindings(t *testing.T) {
	a, _ := guildmodels.NewRoleBinding("g1", "c1", "m1", "✅", []string{"r1"}, guildmodels.BindingNormal, 0, guildmodels.Requirements{})
	b, _ := guildmodels.NewRoleBinding("g1", "c1", "m2", "✅", []string{"r1"}, guildmodels.BindingNormal, 0, guildmodels.Requirements{})
	replacement, _ := guildmodels.NewRoleBinding("g1", "c1", "m1", "✅", []string{"r9"}, guildmodels.BindingToggle, 0, guildmodels.Requirements{})
	c, _ := guildmodels.NewRoleBinding("g1", "c1", "m3", "✅", []string{"r1"}, guildmodels.BindingNormal, 0, guildmodels.Requirements{})

	merged := mergeBindings([]guildmodels.RoleBinding{*a, *b}, []guildmodels.RoleBinding{*replacement, *c})
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"r9"}, merged[0].RoleIDs)
	assert.Equal(t, "m2", merged[1].MessageID)
	assert.Equal(t, "m3", merged[2].MessageID)
}

func TestWriteBindings(t *testing.T) {
	b, err := guildmodels.NewRoleBinding("g1", "c1", "m1", "✅", []string{"r1", "r2"}, guildmodels.BindingJustLose, 5, guildmodels.Requirements{VerifiedDeveloper: true})
	require.NoError(t, err)
	bindings := []guildmodels.RoleBinding{*b}

	var out bytes.Buffer
	require.NoError(t, writeBindings(&out, "table", bindings))
	assert.Contains(t, out.String(), "JUST_LOSE")
	assert.Contains(t, out.String(), "r1,r2")
	assert.Contains(t, out.String(), "developer")

	out.Reset()
	require.NoError(t, writeBindings(&out, "json", bindings))
	var decoded []guildmodels.RoleBinding
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, bindings, decoded)

	out.Reset()
	require.NoError(t, writeBindings(&out, "yaml", bindings))
	roundTrip, err := decodeBindings(".yaml", out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, b.ID, roundTrip[0].ID)
	assert.Equal(t, 5, roundTrip[0].MaxGrants)

	assert.Error(t, writeBindings(&out, "xml", bindings))
}

func TestRequirementsLabel(t *testing.T) {
	assert.Equal(t, "-", requirementsLabel(guildmodels.Requirements{}))
	assert.Equal(t, "boost", requirementsLabel(guildmodels.Requirements{Boost: true}))
	assert.Equal(t, "boost,developer", requirementsLabel(guildmodels.Requirements{Boost: true, VerifiedDeveloper: true}))
}
