package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/storage/storagetest"
)

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ storage.Storage = &Storage{}
}

func open(t *testing.T, filename string) *Storage {
	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return open(t, filepath.Join(t.TempDir(), "storage.db"))
	})
}

func TestReopen(t *testing.T) {
	var (
		ctx      = context.Background()
		filename = filepath.Join(t.TempDir(), "storage.db")
	)

	s := open(t, filename)
	s.Debug = true
	a := storagetest.NewAutomata("a1", "t1", "r1", "s1")
	if err := s.CreateAutomata(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = open(t, filename)
	defer func() {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	got, err := s.GetAutomata(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != a.Version {
		t.Fatalf("got version %s", got.Version)
	}

	as, err := s.ListByRealm(ctx, "t1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(as) != 1 || as[0].ID != "a1" {
		t.Fatalf("got %d automata", len(as))
	}
}
