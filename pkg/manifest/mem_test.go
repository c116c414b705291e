package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/arkechain/attest-core/pkg/record"
)

func TestMemGetMissingReturnsErrNotFound(t *testing.T) {
	m := NewMem()
	_, err := m.Get(context.Background(), "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemPutThenGet(t *testing.T) {
	m := NewMem()
	want := record.Manifest{Ver: 3, Body: map[string]any{"title": "hello"}}
	m.Put("cid-1", want)

	got, err := m.Get(context.Background(), "cid-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Ver != want.Ver || got.Body["title"] != "hello" {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}
