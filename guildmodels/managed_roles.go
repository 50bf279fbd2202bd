package guildmodels

import (
	"fmt"
	"sort"
	"strings"
)

//MaxGrantsCeiling is the largest accepted MaxGrants value. Anything outside [0, MaxGrantsCeiling] means unbounded.
const MaxGrantsCeiling int = 100000

//BindingType describes what a reaction does to the member's roles
type BindingType string

const (
	//BindingNormal grants on reaction add and revokes on removal
	BindingNormal BindingType = "NORMAL"
	//BindingToggle behaves like BindingNormal but only one binding per message may be held at a time
	BindingToggle BindingType = "TOGGLE"
	//BindingJustWin grants on reaction add and never revokes
	BindingJustWin BindingType = "JUST_WIN"
	//BindingJustLose never grants and revokes on reaction removal
	BindingJustLose BindingType = "JUST_LOSE"
	//BindingReversed revokes on reaction add and grants on removal
	BindingReversed BindingType = "REVERSED"
)

//BindingTypes lists every valid binding type
var BindingTypes = []BindingType{BindingNormal, BindingToggle, BindingJustWin, BindingJustLose, BindingReversed}

//ParseBindingType converts a user-supplied type name into a BindingType, ignoring case.
func ParseBindingType(s string) (BindingType, error) {
	normalized := BindingType(strings.ToUpper(strings.TrimSpace(s)))
	if normalized == "" {
		return BindingNormal, nil
	}
	if !normalized.Valid() {
		return "", fmt.Errorf("%w: unknown binding type %q", ErrInvalidInput, s)
	}
	return normalized, nil
}

//Valid returns true iff t is one of the five known binding types
func (t BindingType) Valid() bool {
	for _, known := range BindingTypes {
		if t == known {
			return true
		}
	}
	return false
}

//GrantsOnAdd is true for types that give the member the roles when they react
func (t BindingType) GrantsOnAdd() bool {
	return t == BindingNormal || t == BindingJustWin || t == BindingToggle
}

//RevokesOnAdd is true for types that take the roles away when the member reacts
func (t BindingType) RevokesOnAdd() bool {
	return t == BindingReversed
}

//GrantsOnRemove is true for types that give the roles back when the reaction is removed
func (t BindingType) GrantsOnRemove() bool {
	return t == BindingReversed
}

//RevokesOnRemove is true for types that take the roles away when the reaction is removed
func (t BindingType) RevokesOnRemove() bool {
	return t == BindingNormal || t == BindingToggle || t == BindingJustLose
}

//BindingKey uniquely identifies a binding within the process
type BindingKey struct {
	MessageID string
	EmojiKey  string
}

//String returns the composite id used as the primary key in storage
func (k BindingKey) String() string {
	return k.MessageID + ":" + k.EmojiKey
}

//ParseBindingKey is the inverse of BindingKey.String
func ParseBindingKey(id string) (BindingKey, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return BindingKey{}, fmt.Errorf("%w: malformed binding id %q", ErrInvalidInput, id)
	}
	return BindingKey{MessageID: parts[0], EmojiKey: parts[1]}, nil
}

//IsCustomEmojiKey reports whether key is a guild emoji id rather than a unicode emoji
func IsCustomEmojiKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

//Requirements are the gates a member must pass before a binding grants them anything
type Requirements struct {
	Boost             bool `gorethink:"boost" json:"boost"`
	VerifiedDeveloper bool `gorethink:"verified_developer" json:"verified_developer"`
}

//RoleBinding represents a role (or set of roles) managed through reactions on a single message
type RoleBinding struct {
	ID           string       `gorethink:"id" json:"id"`
	GuildID      string       `gorethink:"guild_id" json:"guild_id"`
	ChannelID    string       `gorethink:"channel_id" json:"channel_id"`
	MessageID    string       `gorethink:"message_id" json:"message_id"`
	EmojiKey     string       `gorethink:"emoji" json:"emoji"`
	RoleIDs      []string     `gorethink:"roles" json:"roles"`
	Winners      []string     `gorethink:"winners" json:"winners"`
	MaxGrants    int          `gorethink:"max" json:"max"`
	Type         BindingType  `gorethink:"type" json:"type"`
	Requirements Requirements `gorethink:"requirements" json:"requirements"`
	Disabled     bool         `gorethink:"disabled" json:"disabled"`

	//Deprecated single role form, folded into RoleIDs by Normalize
	LegacyRoleID string `gorethink:"role,omitempty" json:"role,omitempty"`
	//Deprecated toggle flag, replaced by BindingToggle
	LegacyToggle bool `gorethink:"toggle,omitempty" json:"toggle,omitempty"`
}

//NewRoleBinding builds a validated binding. Role ids are deduplicated and MaxGrants is clamped.
func NewRoleBinding(guildID, channelID, messageID, emojiKey string, roleIDs []string, bindingType BindingType, maxGrants int, reqs Requirements) (*RoleBinding, error) {
	b := RoleBinding{
		GuildID:      guildID,
		ChannelID:    channelID,
		MessageID:    messageID,
		EmojiKey:     emojiKey,
		RoleIDs:      append([]string(nil), roleIDs...),
		MaxGrants:    maxGrants,
		Type:         bindingType,
		Requirements: reqs,
	}
	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

//Key returns the composite identity of the binding
func (b *RoleBinding) Key() BindingKey {
	return BindingKey{MessageID: b.MessageID, EmojiKey: b.EmojiKey}
}

//Normalize upgrades legacy fields and dedupes the role and winner sets. It is applied to every record read from storage.
func (b *RoleBinding) Normalize() {
	if b.LegacyRoleID != "" && !contains(b.RoleIDs, b.LegacyRoleID) {
		b.RoleIDs = append(b.RoleIDs, b.LegacyRoleID)
	}
	b.LegacyRoleID = ""
	if b.LegacyToggle {
		b.Type = BindingToggle
	}
	b.LegacyToggle = false
	if b.Type == "" {
		b.Type = BindingNormal
	} else {
		b.Type = BindingType(strings.ToUpper(string(b.Type)))
	}
	b.RoleIDs = dedupe(b.RoleIDs)
	b.Winners = dedupe(b.Winners)
	sort.Strings(b.Winners)
	b.MaxGrants = ClampMaxGrants(b.MaxGrants)
	b.ID = b.Key().String()
}

//Validate checks the fields a binding needs to enter the binding table
func (b *RoleBinding) Validate() error {
	switch {
	case b.GuildID == "":
		return fmt.Errorf("%w: binding has no guild", ErrInvalidInput)
	case b.ChannelID == "":
		return fmt.Errorf("%w: binding has no channel", ErrInvalidInput)
	case b.MessageID == "":
		return fmt.Errorf("%w: binding has no message", ErrInvalidInput)
	case b.EmojiKey == "":
		return fmt.Errorf("%w: binding has no emoji", ErrInvalidInput)
	case len(b.RoleIDs) == 0:
		return fmt.Errorf("%w: binding needs at least one role", ErrInvalidInput)
	case !b.Type.Valid():
		return fmt.Errorf("%w: unknown binding type %q", ErrInvalidInput, b.Type)
	}
	return nil
}

//ClampMaxGrants maps out-of-range capacities to 0 (unbounded)
func ClampMaxGrants(n int) int {
	if n < 0 || n > MaxGrantsCeiling {
		return 0
	}
	return n
}

//AtCapacity is true when the binding cannot accept another winner
func (b *RoleBinding) AtCapacity() bool {
	return b.MaxGrants > 0 && len(b.Winners) >= b.MaxGrants
}

//HasRole returns true iff roleID is one of the roles granted by the binding
func (b *RoleBinding) HasRole(roleID string) bool {
	return contains(b.RoleIDs, roleID)
}

//HasWinner returns true iff the member currently holds the grant through this binding
func (b *RoleBinding) HasWinner(userID string) bool {
	i := sort.SearchStrings(b.Winners, userID)
	return i < len(b.Winners) && b.Winners[i] == userID
}

//AddWinner inserts userID into the winner set, returning false if it was already present
func (b *RoleBinding) AddWinner(userID string) bool {
	i := sort.SearchStrings(b.Winners, userID)
	if i < len(b.Winners) && b.Winners[i] == userID {
		return false
	}
	b.Winners = append(b.Winners, "")
	copy(b.Winners[i+1:], b.Winners[i:])
	b.Winners[i] = userID
	return true
}

//RemoveWinner deletes userID from the winner set, returning false if it was not present
func (b *RoleBinding) RemoveWinner(userID string) bool {
	i := sort.SearchStrings(b.Winners, userID)
	if i >= len(b.Winners) || b.Winners[i] != userID {
		return false
	}
	b.Winners = append(b.Winners[:i], b.Winners[i+1:]...)
	return true
}

//Clone returns a deep copy of the binding
func (b *RoleBinding) Clone() *RoleBinding {
	c := *b
	c.RoleIDs = append([]string(nil), b.RoleIDs...)
	c.Winners = append([]string(nil), b.Winners...)
	return &c
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	if len(list) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(list))
	res := make([]string, 0, len(list))
	for _, item := range list {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		res = append(res, item)
	}
	return res
}
