package sqlite

import (
	"testing"
)

func TestUpsertAndAllRoundTrip(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	const account = "alice@example.com"
	entry := Entry{
		LegacyName:    "bob123",
		Alias:         "Bob",
		Groups:        []string{"Friends", "Work"},
		Status:        2,
		StatusMessage: "out to lunch",
		IconHash:      "abc123",
	}
	if err := db.Upsert(account, entry); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	entries, err := db.All(account)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.LegacyName != entry.LegacyName || got.Alias != entry.Alias || got.IconHash != entry.IconHash {
		t.Fatalf("All()[0] = %+v, want %+v", got, entry)
	}
	if len(got.Groups) != 2 || got.Groups[0] != "Friends" || got.Groups[1] != "Work" {
		t.Fatalf("All()[0].Groups = %v, want [Friends Work]", got.Groups)
	}
}

func TestUpsertOverwritesExistingEntry(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	const account = "alice@example.com"
	if err := db.Upsert(account, Entry{LegacyName: "bob123", Alias: "Bob", Status: 0}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := db.Upsert(account, Entry{LegacyName: "bob123", Alias: "Bobby", Status: 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	entries, err := db.All(account)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(entries))
	}
	if entries[0].Alias != "Bobby" || entries[0].Status != 1 {
		t.Fatalf("All()[0] = %+v, want Alias=Bobby Status=1", entries[0])
	}
}

func TestRemoveDeletesOneEntry(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	const account = "alice@example.com"
	if err := db.Upsert(account, Entry{LegacyName: "bob123"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := db.Upsert(account, Entry{LegacyName: "carol456"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := db.Remove(account, "bob123"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	entries, err := db.All(account)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(entries) != 1 || entries[0].LegacyName != "carol456" {
		t.Fatalf("All() = %+v, want only carol456", entries)
	}
}

func TestDeleteAccountRemovesEverything(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	const account = "alice@example.com"
	if err := db.Upsert(account, Entry{LegacyName: "bob123"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := db.Upsert("carol@example.com", Entry{LegacyName: "dave789"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := db.DeleteAccount(account); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	entries, err := db.All(account)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("All(%s) = %+v, want empty", account, entries)
	}

	other, err := db.All("carol@example.com")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("All(carol) = %+v, want 1 entry unaffected", other)
	}
}
