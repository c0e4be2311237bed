package zobrist

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"lukechampine.com/frand"
)

var (
	// ErrInvalidDimension is returned for a table with no pieces or no positions.
	ErrInvalidDimension = errors.New("zobrist: piece and position counts must be positive")
	// ErrIndexOutOfRange is wrapped by every bounds failure, panics included.
	ErrIndexOutOfRange  = errors.New("zobrist: index out of range")
	// ErrTableTooLarge is returned when the table cannot be allocated.
	ErrTableTooLarge    = errors.New("zobrist: key table too large")
	// ErrInvalidSeed is returned for a raw seed that is not SeedSize bytes.
	ErrInvalidSeed      = errors.New("zobrist: seed must be 32 bytes")
)

// SeedSize is the length of a raw key table seed.
const SeedSize = 32

// Upper bound on table cells, so the backing slice size in bytes fits an int.
const maxCells = math.MaxInt / 8

const (
	seededBufSize = 1024
	seededRounds  = 12
)

// KeyTable holds one random key per (piece, position) pair. It is never
// written after NewKeyTable returns and may be shared between goroutines.
type KeyTable struct {
	pieces    int
	positions int
	keys      []uint64 // row-major, stride positions
}

// Placement names one piece standing on one position.
type Placement struct {
	Piece    int
	Position int
}

// KeyTableOptions configures NewKeyTable. A nil Seed draws a random table.
type KeyTableOptions struct {
	Seed []byte
}

// KeyTableOption mutates KeyTableOptions; see WithSeed and WithSeedString.
type KeyTableOption func(*KeyTableOptions)

// WithSeed makes the table reproducible: two tables of the same shape built
// from the same seed hold identical keys. The seed must be SeedSize bytes.
func WithSeed(seed []byte) KeyTableOption {
	return func(opts *KeyTableOptions) {
		opts.Seed = append([]byte(nil), seed...)
	}
}

// WithSeedString derives a seed from an arbitrary string.
func WithSeedString(s string) KeyTableOption {
	return func(opts *KeyTableOptions) {
		opts.Seed = SeedFromString(s)
	}
}

// SeedFromString expands s into a SeedSize-byte seed.
func SeedFromString(s string) []byte {
	seed := make([]byte, SeedSize)
	for i := 0; i < SeedSize/8; i++ {
		binary.LittleEndian.PutUint64(seed[i*8:], xxh3.HashStringSeed(s, uint64(i)))
	}
	return seed
}

// NewKeyTable allocates a pieces x positions table and fills it with
// non-zero uniform 64-bit keys.
func NewKeyTable(pieces, positions int, opts ...KeyTableOption) (*KeyTable, error) {
	if pieces < 1 || positions < 1 {
		return nil, errors.Wrapf(ErrInvalidDimension, "got %dx%d", pieces, positions)
	}
	if pieces > maxCells/positions {
		return nil, errors.Wrapf(ErrTableTooLarge, "%dx%d", pieces, positions)
	}

	tableOpts := KeyTableOptions{}
	for _, opt := range opts {
		opt(&tableOpts)
	}

	var rng *frand.RNG
	if tableOpts.Seed != nil {
		if len(tableOpts.Seed) != SeedSize {
			return nil, errors.Wrapf(ErrInvalidSeed, "got %d bytes", len(tableOpts.Seed))
		}
		rng = frand.NewCustom(tableOpts.Seed, seededBufSize, seededRounds)
	} else {
		rng = frand.New()
	}

	t := &KeyTable{
		pieces:    pieces,
		positions: positions,
		keys:      make([]uint64, pieces*positions),
	}
	fillKeys(t.keys, rng)
	return t, nil
}

// fillKeys draws every key from [1, MaxUint64]. A zero key would leave the
// hash unchanged.
func fillKeys(keys []uint64, rng *frand.RNG) {
	for i := range keys {
		keys[i] = rng.Uint64n(math.MaxUint64) + 1
	}
}

// Pieces returns the number of piece kinds (rows) in the table.
func (t *KeyTable) Pieces() int { return t.pieces }

// Positions returns the number of positions (columns) in the table.
func (t *KeyTable) Positions() int { return t.positions }

// Contains reports whether (piece, position) addresses a key in the table.
func (t *KeyTable) Contains(piece, position int) bool {
	return piece >= 0 && piece < t.pieces && position >= 0 && position < t.positions
}

// Key returns the key of (piece, position). It panics with an error wrapping
// ErrIndexOutOfRange if the pair is outside the table.
func (t *KeyTable) Key(piece, position int) uint64 {
	if !t.Contains(piece, position) {
		panic(t.rangeError(piece, position))
	}
	return t.keys[piece*t.positions+position]
}

// HashOf computes the hash of a whole board from scratch.
func (t *KeyTable) HashOf(placements ...Placement) (uint64, error) {
	var h uint64
	for _, p := range placements {
		if !t.Contains(p.Piece, p.Position) {
			return 0, t.rangeError(p.Piece, p.Position)
		}
		h ^= t.keys[p.Piece*t.positions+p.Position]
	}
	return h, nil
}

func (t *KeyTable) rangeError(piece, position int) error {
	return errors.Wrapf(ErrIndexOutOfRange, "piece %d, position %d not in %dx%d table",
		piece, position, t.pieces, t.positions)
}
