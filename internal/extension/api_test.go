package extension

import (
	"sync"
	"testing"
	"time"
)

func TestEmitUserConnectedNotifiesSubscribers(t *testing.T) {
	api := newHostAPI()

	var mu sync.Mutex
	var gotJID, gotLegacyName string
	done := make(chan struct{})

	api.OnUserConnected(func(jid, legacyName string) {
		mu.Lock()
		gotJID, gotLegacyName = jid, legacyName
		mu.Unlock()
		close(done)
	})

	api.EmitUserConnected("alice@example.com", "alice123")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotJID != "alice@example.com" || gotLegacyName != "alice123" {
		t.Fatalf("handler got (%q, %q), want (alice@example.com, alice123)", gotJID, gotLegacyName)
	}
}

func TestUnsubscribeStopsFurtherCalls(t *testing.T) {
	api := newHostAPI()

	calls := 0
	var mu sync.Mutex
	unsub := api.OnAvatarChanged(func(event AvatarChangedEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsub()

	api.EmitAvatarChanged(AvatarChangedEvent{User: "alice@example.com", BuddyName: "bob123"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("calls = %d after unsubscribe, want 0", calls)
	}
}

func TestPublishAvatarWithoutSinkIsNoop(t *testing.T) {
	api := newHostAPI()
	if err := api.PublishAvatar("bob123", "abc123", []byte("data"), "image/png"); err != nil {
		t.Fatalf("PublishAvatar() with no sink registered should be a no-op, got %v", err)
	}
}

func TestLoadAllWithMissingPluginDirIsNotAnError(t *testing.T) {
	h := NewHost("/nonexistent/plugin/dir", nil)
	if err := h.LoadAll(); err != nil {
		t.Fatalf("LoadAll() with missing plugin dir = %v, want nil", err)
	}
}
