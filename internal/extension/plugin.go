// Package extension hosts out-of-process plugins for two peripheral
// features left outside the gateway core: avatar retrieval on a
// BUDDY_CHANGED icon_hash change, and a slot for notification delivery.
// The gateway core never imports a plugin's code directly; it dials out
// to a spawned plugin binary over gRPC.
package extension

import (
	"context"
	"time"
)

// Plugin is the interface every extension binary implements.
type Plugin interface {
	Name() string
	Version() string
	Description() string

	// Init wires the plugin to the host's callback surface.
	Init(ctx context.Context, api API) error
	Start() error
	Stop() error
}

// API is exposed to plugins. It is entirely lifecycle events: a plugin
// reacts to what the gateway observed, it does not drive the gateway.
type API interface {
	EventsAPI
	AvatarAPI
	NotificationAPI
}

// EventsAPI lets a plugin subscribe to gateway lifecycle events without the
// gateway depending on the plugin: a listener registry rather than a
// signal/slot bus, so the gateway core stays free of plugin types.
type EventsAPI interface {
	// OnUserConnected registers a handler invoked after a CONNECTED envelope
	// is dispatched for a user. Returns an unsubscribe function.
	OnUserConnected(handler func(jid, legacyName string)) func()

	// OnAvatarChanged registers a handler invoked when a BUDDY_CHANGED
	// envelope carries an icon_hash that differs from the roster's stored
	// value.
	OnAvatarChanged(handler func(event AvatarChangedEvent)) func()

	// OnNotificationRequested registers a handler invoked when a user with
	// notifications enabled would receive a notification-worthy event.
	// No core code currently calls EmitNotificationRequested; the stub is
	// wired so a plugin has a real call site to build against.
	OnNotificationRequested(handler func(event NotificationEvent)) func()
}

// AvatarAPI lets the avatar-fetch plugin report what it found.
type AvatarAPI interface {
	// PublishAvatar reports a fetched avatar image for buddyName so the host
	// can turn it into a vCard-temp update. Plugins do not talk to the
	// legacy buddy's roster entry directly.
	PublishAvatar(buddyName string, iconHash string, data []byte, mimeType string) error
}

// NotificationAPI is the inert-by-default counterpart to EventsAPI's
// OnNotificationRequested: a plugin calls this once it has actually shown a
// notification, purely for host-side logging.
type NotificationAPI interface {
	ReportNotificationShown(jid string) error
}

// AvatarChangedEvent is published to OnAvatarChanged subscribers.
type AvatarChangedEvent struct {
	User      string
	BuddyName string
	IconHash  string
}

// NotificationEvent is published to OnNotificationRequested subscribers.
type NotificationEvent struct {
	JID     string
	Title   string
	Body    string
	Emitted time.Time
}
