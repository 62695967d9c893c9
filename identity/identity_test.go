package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestMemoryStoreRejectsIncompleteRef(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Values(context.Background(), Ref{Realm: "root"}, "a"); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef, got %v", err)
	}
	if _, err := s.Update(context.Background(), Ref{Username: "u"}, "a", nil); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef, got %v", err)
	}
}

func TestMemoryStoreUpdateIsSerialized(t *testing.T) {
	s := NewMemoryStore()
	ref := Ref{Realm: "root", Username: "alice"}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, ref, "counter", func(cur []string) ([]string, error) {
				n := 0
				if len(cur) == 1 {
					n, _ = strconv.Atoi(cur[0])
				}
				return []string{strconv.Itoa(n + 1)}, nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	vals, err := s.Values(ctx, ref, "counter")
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 1 || vals[0] != "50" {
		t.Fatalf("expected 50, got %v", vals)
	}
}

func TestMemoryStoreEmptyResultDeletes(t *testing.T) {
	s := NewMemoryStore()
	ref := Ref{Realm: "root", Username: "alice"}
	ctx := context.Background()

	if _, err := s.Update(ctx, ref, "a", func([]string) ([]string, error) { return []string{"x"}, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Update(ctx, ref, "a", func([]string) ([]string, error) { return nil, nil }); err != nil {
		t.Fatalf("clear: %v", err)
	}
	vals, _ := s.Values(ctx, ref, "a")
	if len(vals) != 0 {
		t.Fatalf("expected no values, got %v", vals)
	}
}

func TestMemoryStoreUpdateErrorLeavesValues(t *testing.T) {
	s := NewMemoryStore()
	ref := Ref{Realm: "root", Username: "alice"}
	ctx := context.Background()
	boom := errors.New("boom")

	_, _ = s.Update(ctx, ref, "a", func([]string) ([]string, error) { return []string{"keep"}, nil })
	if _, err := s.Update(ctx, ref, "a", func([]string) ([]string, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	vals, _ := s.Values(ctx, ref, "a")
	if len(vals) != 1 || vals[0] != "keep" {
		t.Fatalf("values changed after failed update: %v", vals)
	}
}

func TestFindAndReplaceUsePrefix(t *testing.T) {
	vals := []string{"node1=3", "node10=7", "other=1"}

	if v, ok := Find(vals, "node1="); !ok || v != "3" {
		t.Fatalf("Find(node1=) = %q,%v", v, ok)
	}
	if v, ok := Find(vals, "node10="); !ok || v != "7" {
		t.Fatalf("Find(node10=) = %q,%v", v, ok)
	}

	out := Replace(vals, "node1=", "node1=4")
	if len(out) != 3 || out[2] != "node1=4" || out[0] != "node10=7" {
		t.Fatalf("Replace = %v", out)
	}
	if out := Replace(vals, "node1=", ""); len(out) != 2 {
		t.Fatalf("Replace removal = %v", out)
	}
}
