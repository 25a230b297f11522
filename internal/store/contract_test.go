package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	prefix := fmt.Sprintf("contract:%d:", time.Now().UnixNano())

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, prefix+"missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		key := prefix + "set"
		if err := s.Set(ctx, key, []byte("v1"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, key, []byte("v2"), 0); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("Get = %q, want v2", got)
		}
		exists, err := s.Exists(ctx, key)
		if err != nil || !exists {
			t.Errorf("Exists = %v, %v; want true, nil", exists, err)
		}
	})

	t.Run("setnx only once", func(t *testing.T) {
		key := prefix + "setnx"
		ok, err := s.SetNX(ctx, key, []byte("first"), 0)
		if err != nil || !ok {
			t.Fatalf("first SetNX = %v, %v; want true, nil", ok, err)
		}
		ok, err = s.SetNX(ctx, key, []byte("second"), 0)
		if err != nil || ok {
			t.Fatalf("second SetNX = %v, %v; want false, nil", ok, err)
		}
		got, _ := s.Get(ctx, key)
		if string(got) != "first" {
			t.Errorf("value = %q, want first", got)
		}
	})

	t.Run("del if equal", func(t *testing.T) {
		key := prefix + "cad"
		_ = s.Set(ctx, key, []byte("token-a"), time.Minute)

		deleted, err := s.DelIfEqual(ctx, key, []byte("token-b"))
		if err != nil || deleted {
			t.Fatalf("DelIfEqual mismatched = %v, %v; want false, nil", deleted, err)
		}
		deleted, err = s.DelIfEqual(ctx, key, []byte("token-a"))
		if err != nil || !deleted {
			t.Fatalf("DelIfEqual matched = %v, %v; want true, nil", deleted, err)
		}
		exists, _ := s.Exists(ctx, key)
		if exists {
			t.Error("key should be gone after DelIfEqual")
		}
	})

	t.Run("get del", func(t *testing.T) {
		key := prefix + "getdel"
		_ = s.Set(ctx, key, []byte("once"), time.Minute)

		got, err := s.GetDel(ctx, key)
		if err != nil || string(got) != "once" {
			t.Fatalf("GetDel = %q, %v; want once, nil", got, err)
		}
		if _, err := s.GetDel(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("second GetDel error = %v, want ErrNotFound", err)
		}
	})

	t.Run("get many", func(t *testing.T) {
		a, b := prefix+"many:a", prefix+"many:b"
		_ = s.Set(ctx, a, []byte("A"), 0)
		_ = s.Set(ctx, b, []byte("B"), 0)

		got, err := s.GetMany(ctx, []string{a, prefix + "many:missing", b})
		if err != nil {
			t.Fatalf("GetMany: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("GetMany returned %d entries, want 3", len(got))
		}
		if string(got[0]) != "A" || got[1] != nil || string(got[2]) != "B" {
			t.Errorf("GetMany = %q", got)
		}
	})

	t.Run("sets", func(t *testing.T) {
		setKey := prefix + "set:members"
		members, err := s.Members(ctx, setKey)
		if err != nil {
			t.Fatalf("Members on missing set: %v", err)
		}
		if len(members) != 0 {
			t.Fatalf("expected empty set, got %v", members)
		}

		for _, m := range []string{"x", "y", "x"} {
			if err := s.AddToSet(ctx, setKey, m); err != nil {
				t.Fatalf("AddToSet(%q): %v", m, err)
			}
		}
		members, err = s.Members(ctx, setKey)
		if err != nil {
			t.Fatalf("Members: %v", err)
		}
		if len(members) != 2 {
			t.Errorf("expected 2 distinct members, got %v", members)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
