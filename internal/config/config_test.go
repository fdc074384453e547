package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmppgw.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.ListenPort != 10000 {
		t.Fatalf("ListenPort = %d, want 10000", cfg.Service.ListenPort)
	}
	if cfg.Service.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("DataDir = %q, want %q", cfg.Service.DataDir, filepath.Join(dir, "data"))
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmppgw.toml")

	if err := Save(&Config{}, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with empty service.backend/jid/server should have errored")
	}
}

func TestLoadRejectsServerModeWithoutPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmppgw.toml")

	cfg := DefaultConfig()
	cfg.Service.Backend = "/usr/local/bin/legacy-backend"
	cfg.Service.JID = "gateway.example.com"
	cfg.Service.Server = "0.0.0.0"
	cfg.Service.ServerMode = true

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with server_mode=true and no service.password should have errored")
	}

	cfg.Service.Password = "s3cret"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() with server_mode and a password should succeed, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmppgw.toml")

	cfg := DefaultConfig()
	cfg.Service.Backend = "/usr/local/bin/legacy-backend"
	cfg.Service.JID = "gateway.example.com"
	cfg.Service.Server = "xmpp.example.com"
	cfg.Users = []UserConfig{
		{JID: "alice@example.com", LegacyName: "alice123", Password: "hunter2", SendHeadlines: true},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Service.JID != cfg.Service.JID {
		t.Fatalf("JID = %q, want %q", got.Service.JID, cfg.Service.JID)
	}

	table := got.CredentialTable()
	entry, ok := table["alice@example.com"]
	if !ok || entry[0] != "alice123" || entry[1] != "hunter2" {
		t.Fatalf("CredentialTable()[alice] = (%v, %v), want ([alice123 hunter2], true)", entry, ok)
	}

	sendHeadlines, enableNotifications := got.UserSettings("alice@example.com")
	if !sendHeadlines || enableNotifications {
		t.Fatalf("UserSettings(alice) = (%v, %v), want (true, false)", sendHeadlines, enableNotifications)
	}

	sendHeadlines, enableNotifications = got.UserSettings("nobody@example.com")
	if sendHeadlines || enableNotifications {
		t.Fatalf("UserSettings(unknown) = (%v, %v), want (false, false)", sendHeadlines, enableNotifications)
	}
}
