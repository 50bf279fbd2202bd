package guildmodels

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoleBinding_Valid(t *testing.T) {
	b, err := NewRoleBinding("g1", "c1", "m1", "✅", []string{"r1", "r2", "r1"}, BindingNormal, 3, Requirements{Boost: true})
	require.NoError(t, err)

	assert.Equal(t, "m1:✅", b.ID)
	assert.Equal(t, []string{"r1", "r2"}, b.RoleIDs)
	assert.Empty(t, b.Winners)
	assert.Equal(t, 3, b.MaxGrants)
	assert.True(t, b.Requirements.Boost)
}

func TestNewRoleBinding_RejectsInvalidInput(t *testing.T) {
	cases := map[string]func() (*RoleBinding, error){
		"no guild": func() (*RoleBinding, error) {
			return NewRoleBinding("", "c", "m", "e", []string{"r"}, BindingNormal, 0, Requirements{})
		},
		"no roles": func() (*RoleBinding, error) {
			return NewRoleBinding("g", "c", "m", "e", nil, BindingNormal, 0, Requirements{})
		},
		"no emoji": func() (*RoleBinding, error) {
			return NewRoleBinding("g", "c", "m", "", []string{"r"}, BindingNormal, 0, Requirements{})
		},
		"bad type": func() (*RoleBinding, error) {
			return NewRoleBinding("g", "c", "m", "e", []string{"r"}, BindingType("SIDEWAYS"), 0, Requirements{})
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := build()
			assert.Nil(t, b)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestParseBindingType(t *testing.T) {
	bt, err := ParseBindingType("just_win")
	require.NoError(t, err)
	assert.Equal(t, BindingJustWin, bt)

	bt, err = ParseBindingType("")
	require.NoError(t, err)
	assert.Equal(t, BindingNormal, bt)

	_, err = ParseBindingType("nope")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalize_LegacyFields(t *testing.T) {
	b := RoleBinding{
		GuildID:      "g",
		ChannelID:    "c",
		MessageID:    "m",
		EmojiKey:     "123",
		LegacyRoleID: "r-old",
		LegacyToggle: true,
		Winners:      []string{"u2", "u1", "u2"},
		MaxGrants:    MaxGrantsCeiling + 1,
	}
	b.Normalize()

	assert.Equal(t, []string{"r-old"}, b.RoleIDs)
	assert.Equal(t, BindingToggle, b.Type)
	assert.Equal(t, []string{"u1", "u2"}, b.Winners)
	assert.Equal(t, 0, b.MaxGrants)
	assert.Empty(t, b.LegacyRoleID)
	assert.False(t, b.LegacyToggle)
	assert.Equal(t, "m:123", b.ID)
	assert.NoError(t, b.Validate())
}

func TestNormalize_LegacyRoleAlreadyPresent(t *testing.T) {
	b := RoleBinding{RoleIDs: []string{"r1"}, LegacyRoleID: "r1", Type: "normal"}
	b.Normalize()
	assert.Equal(t, []string{"r1"}, b.RoleIDs)
	assert.Equal(t, BindingNormal, b.Type)
}

func TestClampMaxGrants(t *testing.T) {
	assert.Equal(t, 0, ClampMaxGrants(-1))
	assert.Equal(t, 0, ClampMaxGrants(0))
	assert.Equal(t, 5, ClampMaxGrants(5))
	assert.Equal(t, MaxGrantsCeiling, ClampMaxGrants(MaxGrantsCeiling))
	assert.Equal(t, 0, ClampMaxGrants(MaxGrantsCeiling+1))
}

func TestWinnerSet(t *testing.T) {
	b := &RoleBinding{MaxGrants: 2}

	assert.True(t, b.AddWinner("u3"))
	assert.True(t, b.AddWinner("u1"))
	assert.False(t, b.AddWinner("u3"))
	assert.Equal(t, []string{"u1", "u3"}, b.Winners)
	assert.True(t, b.AtCapacity())

	assert.True(t, b.HasWinner("u1"))
	assert.False(t, b.HasWinner("u2"))

	assert.True(t, b.RemoveWinner("u1"))
	assert.False(t, b.RemoveWinner("u1"))
	assert.Equal(t, []string{"u3"}, b.Winners)
	assert.False(t, b.AtCapacity())
}

func TestClone_IsDeep(t *testing.T) {
	b, err := NewRoleBinding("g", "c", "m", "e", []string{"r"}, BindingNormal, 0, Requirements{})
	require.NoError(t, err)
	b.AddWinner("u1")

	c := b.Clone()
	c.AddWinner("u2")
	c.RoleIDs[0] = "changed"

	assert.Equal(t, []string{"u1"}, b.Winners)
	assert.Equal(t, []string{"r"}, b.RoleIDs)
}

func TestBindingTypePolicies(t *testing.T) {
	assert.True(t, BindingNormal.GrantsOnAdd())
	assert.True(t, BindingNormal.RevokesOnRemove())
	assert.True(t, BindingJustWin.GrantsOnAdd())
	assert.False(t, BindingJustWin.RevokesOnRemove())
	assert.False(t, BindingJustLose.GrantsOnAdd())
	assert.True(t, BindingJustLose.RevokesOnRemove())
	assert.True(t, BindingReversed.RevokesOnAdd())
	assert.True(t, BindingReversed.GrantsOnRemove())
	assert.False(t, BindingReversed.GrantsOnAdd())
}

func TestParseBindingKey(t *testing.T) {
	k, err := ParseBindingKey("123:456")
	require.NoError(t, err)
	assert.Equal(t, BindingKey{MessageID: "123", EmojiKey: "456"}, k)
	assert.Equal(t, "123:456", k.String())

	_, err = ParseBindingKey("garbage")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRequirementsEvaluate(t *testing.T) {
	now := time.Now()
	booster := Member{UserID: "u", PremiumSince: &now}
	dev := Member{UserID: "u", VerifiedDeveloper: true}
	both := Member{UserID: "u", PremiumSince: &now, VerifiedDeveloper: true}
	plain := Member{UserID: "u"}

	assert.True(t, Requirements{}.Evaluate(plain).Eligible)

	res := Requirements{Boost: true}.Evaluate(plain)
	assert.False(t, res.Eligible)
	assert.Equal(t, RequirementBoost, res.FailedRequirement)

	assert.True(t, Requirements{Boost: true}.Evaluate(booster).Eligible)

	// boost is checked first
	res = Requirements{Boost: true, VerifiedDeveloper: true}.Evaluate(plain)
	assert.Equal(t, RequirementBoost, res.FailedRequirement)

	res = Requirements{Boost: true, VerifiedDeveloper: true}.Evaluate(booster)
	assert.Equal(t, RequirementVerifiedDeveloper, res.FailedRequirement)

	assert.False(t, Requirements{Boost: true, VerifiedDeveloper: true}.Evaluate(dev).Eligible)
	assert.True(t, Requirements{Boost: true, VerifiedDeveloper: true}.Evaluate(both).Eligible)
}

func TestEvaluationErr(t *testing.T) {
	assert.NoError(t, Evaluation{Eligible: true}.Err())

	err := Requirements{VerifiedDeveloper: true}.Evaluate(Member{UserID: "x"}).Err()
	assert.ErrorIs(t, err, ErrMissingRequirement)
	assert.Contains(t, err.Error(), string(RequirementVerifiedDeveloper))
}

func TestRequirementsAny(t *testing.T) {
	assert.False(t, Requirements{}.Any())
	assert.True(t, Requirements{Boost: true}.Any())
	assert.True(t, Requirements{VerifiedDeveloper: true}.Any())
}
