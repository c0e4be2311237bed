// Package zobrist implements incremental Zobrist hashing of board states.
//
// A Hasher keeps a running hash over a KeyTable of random keys, one per
// (piece, position) pair. Placing or lifting a piece XORs its key into the
// running hash, so a board update costs one XOR instead of a full rehash:
//
//	h, err := zobrist.New(2, 61)
//	if err != nil {
//		return err
//	}
//	h.Add(0, 12)    // piece 0 enters position 12
//	h.Remove(0, 12) // and leaves it again
//	h.Add(0, 13)
//	key := h.Hash()
//
// The hasher does no occupancy bookkeeping: removing a piece that was never
// added toggles its key in just the same way. Hashes are only comparable
// between hashers sharing a KeyTable (a hasher and its clones) or tables built
// from the same seed.
package zobrist

// Hasher is a running Zobrist hash over a shared KeyTable. A Hasher must not
// be mutated from more than one goroutine at a time; give each goroutine its
// own Clone instead.
type Hasher struct {
	table *KeyTable
	hash  uint64
}

// New builds a fresh key table and returns a hasher over it with an empty
// board (hash 0).
func New(pieces, positions int, opts ...KeyTableOption) (*Hasher, error) {
	t, err := NewKeyTable(pieces, positions, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithTable(t), nil
}

// NewWithTable returns an empty-board hasher over an existing table.
func NewWithTable(t *KeyTable) *Hasher {
	return &Hasher{table: t}
}

// Clone returns a hasher that shares h's key table and starts from h's
// current hash. The two hashes evolve independently afterwards.
func (h *Hasher) Clone() *Hasher {
	return &Hasher{table: h.table, hash: h.hash}
}

// Reset sets the hash back to the empty board.
func (h *Hasher) Reset() {
	h.hash = 0
}

// Add toggles the key of piece on position and returns the new hash.
// Out-of-range indices panic with an error wrapping ErrIndexOutOfRange.
func (h *Hasher) Add(piece, position int) uint64 {
	h.hash ^= h.table.Key(piece, position)
	return h.hash
}

// Remove is Add under another name: XOR undoes itself.
func (h *Hasher) Remove(piece, position int) uint64 {
	h.hash ^= h.table.Key(piece, position)
	return h.hash
}

// Hash returns the current hash.
func (h *Hasher) Hash() uint64 {
	return h.hash
}

// Table returns the key table h hashes with, shared with all its clones.
func (h *Hasher) Table() *KeyTable {
	return h.table
}
