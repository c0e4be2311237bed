package zobrist

import (
	"testing"

	"github.com/pkg/errors"
	"lukechampine.com/frand"
)

func mustNew(t *testing.T, pieces, positions int, opts ...KeyTableOption) *Hasher {
	t.Helper()
	h, err := New(pieces, positions, opts...)
	if err != nil {
		t.Fatalf("New(%d, %d) failed: %v", pieces, positions, err)
	}
	return h
}

// expectPanic runs f and returns the error it panicked with.
func expectPanic(t *testing.T, f func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic, got none")
		}
		var ok bool
		if err, ok = r.(error); !ok {
			t.Fatalf("expected panic with error, got %T: %v", r, r)
		}
	}()
	f()
	return nil
}

func TestNew(t *testing.T) {
	t.Run("Empty board", func(t *testing.T) {
		h := mustNew(t, 2, 3)
		if h.Hash() != 0 {
			t.Errorf("expected initial hash 0, got %d", h.Hash())
		}
		if h.Table().Pieces() != 2 || h.Table().Positions() != 3 {
			t.Errorf("expected 2x3 table, got %dx%d", h.Table().Pieces(), h.Table().Positions())
		}
	})

	t.Run("Invalid dimensions", func(t *testing.T) {
		for _, dims := range [][2]int{{0, 3}, {2, 0}, {-1, 5}, {5, -1}, {0, 0}} {
			h, err := New(dims[0], dims[1])
			if !errors.Is(err, ErrInvalidDimension) {
				t.Errorf("New(%d, %d): expected ErrInvalidDimension, got %v", dims[0], dims[1], err)
			}
			if h != nil {
				t.Errorf("New(%d, %d): expected nil hasher on error", dims[0], dims[1])
			}
		}
	})

	t.Run("Too large", func(t *testing.T) {
		_, err := NewKeyTable(maxCells, 2)
		if !errors.Is(err, ErrTableTooLarge) {
			t.Errorf("expected ErrTableTooLarge, got %v", err)
		}
	})

	t.Run("Bad seed", func(t *testing.T) {
		_, err := New(2, 3, WithSeed([]byte("short")))
		if !errors.Is(err, ErrInvalidSeed) {
			t.Errorf("expected ErrInvalidSeed, got %v", err)
		}
	})

	t.Run("No zero keys", func(t *testing.T) {
		table, err := NewKeyTable(13, 64)
		if err != nil {
			t.Fatalf("NewKeyTable failed: %v", err)
		}
		for p := 0; p < table.Pieces(); p++ {
			for s := 0; s < table.Positions(); s++ {
				if table.Key(p, s) == 0 {
					t.Fatalf("key (%d, %d) is zero", p, s)
				}
			}
		}
	})
}

func TestConcreteScenario(t *testing.T) {
	h := mustNew(t, 2, 3)
	k := h.Table()

	if got := h.Add(0, 0); got != k.Key(0, 0) {
		t.Errorf("Add(0,0) = %x, want %x", got, k.Key(0, 0))
	}
	if got, want := h.Add(1, 2), k.Key(0, 0)^k.Key(1, 2); got != want {
		t.Errorf("Add(1,2) = %x, want %x", got, want)
	}
	if got := h.Remove(0, 0); got != k.Key(1, 2) {
		t.Errorf("Remove(0,0) = %x, want %x", got, k.Key(1, 2))
	}
	h.Reset()
	if h.Hash() != 0 {
		t.Errorf("expected 0 after Reset, got %x", h.Hash())
	}
}

func TestSelfInverse(t *testing.T) {
	h := mustNew(t, 3, 8)
	h.Add(2, 7)
	start := h.Hash()
	for p := 0; p < 3; p++ {
		for s := 0; s < 8; s++ {
			h.Add(p, s)
			if got := h.Add(p, s); got != start {
				t.Errorf("Add(%d,%d) twice = %x, want %x", p, s, got, start)
			}
			h.Add(p, s)
			if got := h.Remove(p, s); got != start {
				t.Errorf("Add then Remove(%d,%d) = %x, want %x", p, s, got, start)
			}
		}
	}
}

func TestOrderIndependence(t *testing.T) {
	base := mustNew(t, 4, 16)
	var placements []Placement
	for p := 0; p < 4; p++ {
		for s := p; s < 16; s += 3 {
			placements = append(placements, Placement{Piece: p, Position: s})
		}
	}

	var want uint64
	for _, pl := range placements {
		want = base.Add(pl.Piece, pl.Position)
	}

	for round := 0; round < 10; round++ {
		frand.Shuffle(len(placements), func(i, j int) {
			placements[i], placements[j] = placements[j], placements[i]
		})
		h := NewWithTable(base.Table())
		for _, pl := range placements {
			h.Add(pl.Piece, pl.Position)
		}
		if h.Hash() != want {
			t.Fatalf("round %d: got %x, want %x", round, h.Hash(), want)
		}
	}

	full, err := base.Table().HashOf(placements...)
	if err != nil {
		t.Fatalf("HashOf failed: %v", err)
	}
	if full != want {
		t.Errorf("HashOf = %x, want incremental %x", full, want)
	}
}

func TestClone(t *testing.T) {
	t.Run("Independent hashes", func(t *testing.T) {
		h := mustNew(t, 2, 5)
		h.Add(0, 1)
		h.Add(1, 3)
		v := h.Hash()

		h2 := h.Clone()
		if h2.Hash() != v {
			t.Fatalf("clone starts at %x, want %x", h2.Hash(), v)
		}
		if h2.Table() != h.Table() {
			t.Error("expected clone to share the key table")
		}

		h2.Add(0, 4)
		if h.Hash() != v {
			t.Errorf("source changed to %x after clone mutation, want %x", h.Hash(), v)
		}
		if h2.Hash() == v {
			t.Errorf("clone hash did not change after Add")
		}

		h.Reset()
		if h2.Hash() != v^h.Table().Key(0, 4) {
			t.Errorf("clone changed after source Reset: %x", h2.Hash())
		}
	})

	t.Run("Deterministic within lineage", func(t *testing.T) {
		root := mustNew(t, 3, 10)
		root.Add(1, 1)
		a, b := root.Clone(), root.Clone()
		moves := []Placement{{0, 2}, {2, 9}, {1, 1}, {0, 2}, {2, 3}}
		for i, m := range moves {
			ha := a.Add(m.Piece, m.Position)
			hb := b.Add(m.Piece, m.Position)
			if ha != hb {
				t.Fatalf("step %d: %x != %x", i, ha, hb)
			}
		}
		a.Remove(2, 3)
		b.Remove(2, 3)
		if a.Hash() != b.Hash() {
			t.Errorf("final hashes differ: %x != %x", a.Hash(), b.Hash())
		}
	})
}

func TestReset(t *testing.T) {
	h := mustNew(t, 2, 4)
	h.Reset()
	if h.Hash() != 0 {
		t.Errorf("Reset on empty board: got %x", h.Hash())
	}
	h.Add(1, 3)
	h.Add(0, 0)
	h.Reset()
	h.Reset()
	if h.Hash() != 0 {
		t.Errorf("expected 0 after double Reset, got %x", h.Hash())
	}
}

func TestBounds(t *testing.T) {
	h := mustNew(t, 2, 3)
	h.Add(1, 1)
	before := h.Hash()

	cases := []Placement{{2, 0}, {-1, 0}, {0, 3}, {0, -1}, {5, 5}}
	for _, c := range cases {
		err := expectPanic(t, func() { h.Add(c.Piece, c.Position) })
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Add(%d,%d): expected ErrIndexOutOfRange, got %v", c.Piece, c.Position, err)
		}
		err = expectPanic(t, func() { h.Remove(c.Piece, c.Position) })
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Remove(%d,%d): expected ErrIndexOutOfRange, got %v", c.Piece, c.Position, err)
		}
	}
	if h.Hash() != before {
		t.Errorf("hash changed by failed calls: %x, want %x", h.Hash(), before)
	}

	if _, err := h.Table().HashOf(Placement{0, 0}, Placement{2, 0}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("HashOf: expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestSeededTables(t *testing.T) {
	a := mustNew(t, 13, 64, WithSeedString("lineage"))
	b := mustNew(t, 13, 64, WithSeed(SeedFromString("lineage")))
	c := mustNew(t, 13, 64, WithSeedString("other"))

	same, diff := true, false
	for p := 0; p < 13; p++ {
		for s := 0; s < 64; s++ {
			if a.Table().Key(p, s) != b.Table().Key(p, s) {
				same = false
			}
			if a.Table().Key(p, s) != c.Table().Key(p, s) {
				diff = true
			}
		}
	}
	if !same {
		t.Error("expected tables from the same seed to match")
	}
	if !diff {
		t.Error("expected tables from different seeds to differ")
	}

	r1 := mustNew(t, 13, 64)
	r2 := mustNew(t, 13, 64)
	if r1.Table().Key(0, 0) == r2.Table().Key(0, 0) && r1.Table().Key(12, 63) == r2.Table().Key(12, 63) {
		t.Error("expected unseeded tables to differ")
	}
}

func BenchmarkAdd(b *testing.B) {
	h, err := New(12, 64)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Add(i%12, i%64)
	}
}
