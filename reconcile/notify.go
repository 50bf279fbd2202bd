package reconcile

import (
	"fmt"

	"github.com/callummance/nia-roles/guildmodels"
)

//NotificationKind identifies what happened
type NotificationKind int

const (
	NotifyRoleGranted NotificationKind = iota + 1
	NotifyRoleRevoked
	NotifyAllReactionsRemoved
	NotifyMissingRequirement
	NotifyMissingPermissions
	NotifyDebug
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyRoleGranted:
		return "role-granted"
	case NotifyRoleRevoked:
		return "role-revoked"
	case NotifyAllReactionsRemoved:
		return "all-reactions-removed"
	case NotifyMissingRequirement:
		return "missing-requirement"
	case NotifyMissingPermissions:
		return "missing-permissions"
	case NotifyDebug:
		return "debug"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

//Notification is emitted by the engine whenever it changes member roles or hits a condition an operator may want to
//know about. Only the fields relevant to Kind are set.
type Notification struct {
	Kind      NotificationKind
	GuildID   string
	ChannelID string
	MessageID string
	MemberID  string
	RoleID    string
	//Action is "grant", "revoke" or "react" for NotifyMissingPermissions
	Action string
	//RoleIDs and MemberIDs list what was affected by NotifyAllReactionsRemoved, or the roles involved in
	//NotifyMissingPermissions
	RoleIDs     []string
	MemberIDs   []string
	Count       int
	Requirement guildmodels.Requirement
	Binding     *guildmodels.RoleBinding
	Message     string
}

//Notifier receives engine notifications. Notify is called from handler goroutines and must not block for long.
type Notifier interface {
	Notify(Notification)
}

//NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Notification)

//Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

func (e *Engine) notify(n Notification) {
	if e.notifier == nil {
		return
	}
	if n.Binding != nil {
		n.Binding = n.Binding.Clone()
	}
	e.notifier.Notify(n)
}

func (e *Engine) debugf(b *guildmodels.RoleBinding, format string, args ...interface{}) {
	n := Notification{Kind: NotifyDebug, Message: fmt.Sprintf(format, args...), Binding: b}
	if b != nil {
		n.GuildID = b.GuildID
		n.ChannelID = b.ChannelID
		n.MessageID = b.MessageID
	}
	e.notify(n)
}
