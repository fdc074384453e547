package extension

import "sync"

// hostAPI is the host-side implementation of API passed to every loaded
// plugin. It fans events out to subscriber handlers and collects what
// plugins report back.
type hostAPI struct {
	mu sync.RWMutex

	userConnected        []func(jid, legacyName string)
	avatarChanged        []func(event AvatarChangedEvent)
	notificationRequested []func(event NotificationEvent)

	onPublishAvatar           func(buddyName, iconHash string, data []byte, mimeType string) error
	onReportNotificationShown func(jid string) error
}

func newHostAPI() *hostAPI {
	return &hostAPI{}
}

func (a *hostAPI) OnUserConnected(handler func(jid, legacyName string)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.userConnected)
	a.userConnected = append(a.userConnected, handler)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.userConnected[idx] = nil
	}
}

func (a *hostAPI) OnAvatarChanged(handler func(event AvatarChangedEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.avatarChanged)
	a.avatarChanged = append(a.avatarChanged, handler)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.avatarChanged[idx] = nil
	}
}

func (a *hostAPI) OnNotificationRequested(handler func(event NotificationEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.notificationRequested)
	a.notificationRequested = append(a.notificationRequested, handler)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.notificationRequested[idx] = nil
	}
}

func (a *hostAPI) PublishAvatar(buddyName, iconHash string, data []byte, mimeType string) error {
	if a.onPublishAvatar != nil {
		return a.onPublishAvatar(buddyName, iconHash, data, mimeType)
	}
	return nil
}

func (a *hostAPI) ReportNotificationShown(jid string) error {
	if a.onReportNotificationShown != nil {
		return a.onReportNotificationShown(jid)
	}
	return nil
}

// EmitUserConnected fans a CONNECTED envelope out to subscribed plugins.
func (a *hostAPI) EmitUserConnected(jid, legacyName string) {
	a.mu.RLock()
	handlers := append([]func(string, string){}, a.userConnected...)
	a.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			go h(jid, legacyName)
		}
	}
}

// EmitAvatarChanged fans out a BUDDY_CHANGED icon_hash change.
func (a *hostAPI) EmitAvatarChanged(event AvatarChangedEvent) {
	a.mu.RLock()
	handlers := append([]func(AvatarChangedEvent){}, a.avatarChanged...)
	a.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			go h(event)
		}
	}
}

// EmitNotificationRequested fans out a notification-worthy event. Left
// uncalled by the core today (§9's documented stub); present so a plugin
// has a real subscription point.
func (a *hostAPI) EmitNotificationRequested(event NotificationEvent) {
	a.mu.RLock()
	handlers := append([]func(NotificationEvent){}, a.notificationRequested...)
	a.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			go h(event)
		}
	}
}
