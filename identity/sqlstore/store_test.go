package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goAuthTree/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var alice = identity.Ref{Realm: "root", Username: "alice"}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Update(ctx, alice, "deviceProfiles", func(cur []string) ([]string, error) {
		return append(cur, `{"deviceId":"d1"}`), nil
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Update(ctx, alice, "deviceProfiles", func(cur []string) ([]string, error) {
		return append(cur, `{"deviceId":"d2"}`), nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	vals, err := s.Values(ctx, alice, "deviceProfiles")
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 2 || vals[1] != `{"deviceId":"d2"}` {
		t.Fatalf("values = %v", vals)
	}
}

func TestStoreRetriesWhenVersionMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Update(ctx, alice, "a", func([]string) ([]string, error) { return []string{"v1"}, nil })

	calls := 0
	stored, err := s.Update(ctx, alice, "a", func(cur []string) ([]string, error) {
		calls++
		if calls == 1 {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE identity_attributes SET vals = '["other"]', version = version + 1 WHERE attr = 'a'`); err != nil {
				t.Fatalf("concurrent write: %v", err)
			}
		}
		return append(cur, "mine"), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 || len(stored) != 2 || stored[0] != "other" {
		t.Fatalf("calls=%d stored=%v", calls, stored)
	}
}

func TestStoreConflictAfterExhaustedRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Update(ctx, alice, "a", func([]string) ([]string, error) { return []string{"v1"}, nil })

	_, err := s.Update(ctx, alice, "a", func(cur []string) ([]string, error) {
		_, _ = s.db.ExecContext(ctx, `UPDATE identity_attributes SET version = version + 1 WHERE attr = 'a'`)
		return []string{"mine"}, nil
	})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestStoreDeleteOnEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Update(ctx, alice, "a", func([]string) ([]string, error) { return []string{"v1"}, nil })
	if _, err := s.Update(ctx, alice, "a", func([]string) ([]string, error) { return nil, nil }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	vals, err := s.Values(ctx, alice, "a")
	if err != nil || len(vals) != 0 {
		t.Fatalf("expected empty, got %v err=%v", vals, err)
	}
}
