package storage

import (
	"context"
	"strings"
	"testing"
)

func TestConflictPolicy_Validate(t *testing.T) {
	t.Parallel()

	if err := UpdateOnConflict("id").Validate(); err != nil {
		t.Fatalf("update policy Validate() err=%v", err)
	}
	if err := IgnoreOnConflict("movie_id", "genre_id").Validate(); err != nil {
		t.Fatalf("ignore policy Validate() err=%v", err)
	}
	if err := (ConflictPolicy{Action: ActionUpdate}).Validate(); err == nil {
		t.Fatalf("policy without key columns accepted")
	}
	if err := (ConflictPolicy{Action: ConflictAction(99), KeyColumns: []string{"id"}}).Validate(); err == nil {
		t.Fatalf("unknown action accepted")
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }

	Register("dup-kind-test", f)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("duplicate Register did not panic")
		}
	}()
	Register("dup-kind-test", f)
}

func TestRegister_PanicsOnBadInput(t *testing.T) {
	t.Run("empty_kind", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatalf("empty kind accepted")
			}
		}()
		Register("", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
	})

	t.Run("nil_factory", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatalf("nil factory accepted")
			}
		}()
		Register("nil-factory-test", nil)
	})
}

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{Kind: "no-such-backend"}); err == nil {
		t.Fatalf("New() accepted unregistered kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New() accepted empty kind")
	}
}

func TestLoadError(t *testing.T) {
	t.Parallel()

	inner := &LoadError{Table: "movies", Err: context.Canceled}
	if !strings.Contains(inner.Error(), "movies") {
		t.Fatalf("Error()=%q, want table name", inner.Error())
	}
	if inner.Unwrap() != context.Canceled {
		t.Fatalf("Unwrap()=%v", inner.Unwrap())
	}
}
