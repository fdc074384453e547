package gateway

import (
	"testing"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/extension"
	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/session"
	"github.com/nyxbridge/xmppgw/internal/storage/sqlite"
	"github.com/nyxbridge/xmppgw/internal/transport"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "debug", Console: false})
	if err != nil {
		t.Fatalf("logging.New() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func testGateway(t *testing.T, rosterStore *sqlite.DB, extHost *extension.Host) *Gateway {
	t.Helper()
	log := testLogger(t)
	sup := backend.NewSupervisor("", "", "127.0.0.1", 0, log, nil)
	sessions := session.NewManager(sup, log)
	tr, err := transport.New(transport.Config{JID: "gateway.example.com"}, log, transport.Hooks{}, false)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	return New(sessions, tr, NewStaticCredentials(nil), nil, extHost, rosterStore, log, false, false)
}

func TestUnrewriteLegacyNameInvertsTrailingPercent(t *testing.T) {
	cases := map[string]string{
		"alice%example.com": "alice@example.com",
		"no-at-sign-here":   "no-at-sign-here",
	}
	for in, want := range cases {
		if got := unrewriteLegacyName(in); got != want {
			t.Errorf("unrewriteLegacyName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandleDisconnectedDestroysSession(t *testing.T) {
	g := testGateway(t, nil, nil)
	u := g.Sessions.OnAvailable("alice@example.com", "alice123", "hunter2")

	g.HandleDisconnected(nil, wire.SessionLifecycle{User: "alice@example.com", Message: "legacy server closed the connection"})

	if _, ok := g.Sessions.Get("alice@example.com"); ok {
		t.Fatal("session must be gone after a DISCONNECTED envelope")
	}
	if !u.IsDestroyed() {
		t.Fatal("destroyed session's lifecycle signal should have fired")
	}
}

func TestHandleBuddyChangedPersistsToRosterStore(t *testing.T) {
	store, err := sqlite.New(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	g := testGateway(t, store, nil)
	u := g.Sessions.OnAvailable("alice@example.com", "alice123", "hunter2")

	g.HandleBuddyChanged(nil, wire.BuddyChanged{
		User:          "alice@example.com",
		BuddyName:     "bob123",
		Alias:         "Bob",
		Groups:        []string{"Friends"},
		Status:        1,
		StatusMessage: "available",
		IconHash:      "hash1",
	})

	if _, ok := u.Roster.Get("bob123"); !ok {
		t.Fatal("roster.Manager should have an entry for bob123 after HandleBuddyChanged")
	}

	entries, err := store.All("alice@example.com")
	if err != nil {
		t.Fatalf("store.All() error = %v", err)
	}
	if len(entries) != 1 || entries[0].LegacyName != "bob123" || entries[0].IconHash != "hash1" {
		t.Fatalf("store.All() = %+v, want one bob123 entry with IconHash hash1", entries)
	}
}

func TestHandleBuddyChangedForUnknownUserIsNoop(t *testing.T) {
	store, err := sqlite.New(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	g := testGateway(t, store, nil)
	g.HandleBuddyChanged(nil, wire.BuddyChanged{User: "nobody@example.com", BuddyName: "bob123"})

	entries, err := store.All("nobody@example.com")
	if err != nil {
		t.Fatalf("store.All() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("store.All() = %+v, want empty for a user with no session", entries)
	}
}

// TestHandleBuddyChangedToleratesExtensionsWithoutPanicking exercises the
// EmitAvatarChanged call path with a real (pluginless) extension.Host: the
// fan-out itself has no subscribers to observe from outside the package
// (subscription is only exposed to loaded plugins), so this only confirms
// wiring an extension host in doesn't introduce a nil-dereference or block.
func TestHandleBuddyChangedToleratesExtensionsWithoutPanicking(t *testing.T) {
	store, err := sqlite.New(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	extHost := extension.NewHost("", testLogger(t))
	g := testGateway(t, store, extHost)
	g.Sessions.OnAvailable("alice@example.com", "alice123", "hunter2")

	g.HandleBuddyChanged(nil, wire.BuddyChanged{User: "alice@example.com", BuddyName: "bob123", IconHash: "hash1"})
	g.HandleBuddyChanged(nil, wire.BuddyChanged{User: "alice@example.com", BuddyName: "bob123", IconHash: "hash2"})

	entries, err := store.All("alice@example.com")
	if err != nil {
		t.Fatalf("store.All() error = %v", err)
	}
	if len(entries) != 1 || entries[0].IconHash != "hash2" {
		t.Fatalf("store.All() = %+v, want one bob123 entry with IconHash hash2", entries)
	}
}
