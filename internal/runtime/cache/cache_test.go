package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	entry := Entry{
		Status:   200,
		Headers:  map[string]string{"Content-Type": "text/html"},
		Body:     []byte("<html>shell</html>"),
		StoredAt: time.Now().UTC(),
	}

	key := Key("healthpages-v2", RequestDescriptor{Method: "GET", URL: "http://origin.local/"})
	if err := store.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Status != 200 || string(got.Body) != "<html>shell</html>" {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.Headers["Content-Type"] != "text/html" {
		t.Fatalf("expected headers to round-trip, got %#v", got.Headers)
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}

	if err := store.DeletePrefix(ctx, GenerationPrefix("healthpages-v2")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	_, ok, err = store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected delete to remove key")
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	entry := Entry{Status: 200, Body: []byte("x"), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(10 * time.Millisecond)
	if err := store.Store(ctx, "key", entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, ok, err := store.Lookup(ctx, "key")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryStoreNoExpiryByDefault(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	entry := Entry{Status: 200, Body: []byte("shell")}
	if err := store.Store(ctx, "key", entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := store.Lookup(ctx, "key")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit for entry without expiry")
	}
	if got.ExpiresAt != (time.Time{}) {
		t.Fatalf("expected zero expiry, got %v", got.ExpiresAt)
	}
}

func TestMemoryStoreKeysByPrefix(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, key := range []string{"healthpages-v1:a", "healthpages-v1:b", "healthpages-v2:a"} {
		if err := store.Store(ctx, key, Entry{Status: 200}); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	keys, err := store.Keys(ctx, "healthpages-v1:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 v1 keys, got %v", keys)
	}
	all, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("keys all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 keys, got %v", all)
	}
}

func TestValkeyStoreLookup(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new valkey: %v", err)
	}
	ctx := context.Background()

	entry := Entry{
		Status:   200,
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     []byte(`{"name":"healthpages"}`),
		StoredAt: time.Now().UTC(),
	}
	key := Key("healthpages-v2", RequestDescriptor{Method: "GET", URL: "http://origin.local/manifest.json"})
	if err := store.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Status != 200 || string(got.Body) != `{"name":"healthpages"}` {
		t.Fatalf("unexpected entry: %#v", got)
	}

	_, ok, err = store.Lookup(ctx, "healthpages-v2:missing")
	if err != nil {
		t.Fatalf("lookup miss: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for absent key")
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestValkeyStoreDeletePrefix(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new valkey: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"healthpages-v1:a", "healthpages-v1:b", "healthpages-v2:a"} {
		if err := store.Store(ctx, key, Entry{Status: 200, Body: []byte("x")}); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}

	if err := store.DeletePrefix(ctx, "healthpages-v1:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}

	keys, err := store.Keys(ctx, "healthpages-")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "healthpages-v2:a" {
		t.Fatalf("expected only the v2 key to survive, got %v", keys)
	}
}

func TestValkeyStoreRequiresAddress(t *testing.T) {
	if _, err := NewValkey(ValkeyConfig{}); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestRequestDescriptorHash(t *testing.T) {
	a := RequestDescriptor{Method: "GET", URL: "http://origin.local/"}
	b := RequestDescriptor{Method: "get", URL: "http://origin.local/"}
	if a.Hash() != b.Hash() {
		t.Fatalf("expected method casing to be canonicalized")
	}
	c := RequestDescriptor{Method: "GET", URL: "http://origin.local/other"}
	if a.Hash() == c.Hash() {
		t.Fatalf("expected distinct URLs to hash differently")
	}
	if len(a.Hash()) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a.Hash())
	}
}

func TestKeyLayout(t *testing.T) {
	d := RequestDescriptor{Method: "GET", URL: "http://origin.local/"}
	key := Key("healthpages-v2", d)
	want := "healthpages-v2:" + d.Hash()
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}
