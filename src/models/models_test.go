package models

import (
	"context"
	"testing"
)

func TestDummyModelServesResponsesInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewDummyModel("first", "second")

	for _, want := range []string{"first", "second", "second"} {
		got, err := m.Complete(ctx, "ignored", Options{})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	if _, err := NewProvider(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewProviderDummy(t *testing.T) {
	m, err := NewProvider(context.Background(), "dummy", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*DummyModel); !ok {
		t.Fatalf("got %T", m)
	}
}
