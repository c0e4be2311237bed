package chesshash

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	chess "github.com/corentings/chess/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/makaw/minimax4j/zobrist"
)

var log = slog.Default().With("package", "chesshash")

var (
	ErrEmptyPGN     = errors.New("chesshash: empty PGN")
	ErrHashMismatch = errors.New("chesshash: incremental hash diverged from full recompute")
)

// PositionFingerprint is the hash of one main-line position of a game.
// Ply 0 is the starting position and carries no move.
type PositionFingerprint struct {
	Ply        int
	MoveNumber int
	Color      string
	MoveText   string
	FEN        string
	Hash       uint64
	Occurrence int // times this hash has been seen so far in the game, including now
}

func (f *PositionFingerprint) String() string {
	return fmt.Sprintf("Ply %d: %s (Hash: %016x, Occurrence: %d)", f.Ply, f.MoveText, f.Hash, f.Occurrence)
}

func (f *PositionFingerprint) IsRepetition() bool {
	return f.Occurrence > 1
}

type positionFingerprintJSON struct {
	Ply        int    `json:"ply"`
	MoveNumber int    `json:"moveNumber"`
	Color      string `json:"color"`
	MoveText   string `json:"moveText"`
	FEN        string `json:"fen"`
	Hash       string `json:"hash"` // 16 hex digits
	Occurrence int    `json:"occurrence"`
	Repetition bool   `json:"repetition"`
}

// MarshalJSON renders the hash as hex so it survives JavaScript numbers.
func (f *PositionFingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionFingerprintJSON{
		Ply:        f.Ply,
		MoveNumber: f.MoveNumber,
		Color:      f.Color,
		MoveText:   f.MoveText,
		FEN:        f.FEN,
		Hash:       fmt.Sprintf("%016x", f.Hash),
		Occurrence: f.Occurrence,
		Repetition: f.IsRepetition(),
	})
}

type FingerprintOptions struct {
	Base   *zobrist.Hasher
	Seed   string
	Verify bool
}

var defaultFingerprintOptions = FingerprintOptions{
	Verify: true,
}

type FingerprintOption func(*FingerprintOptions)

// WithBase hashes in the lineage of base instead of a fresh key table.
func WithBase(base *zobrist.Hasher) FingerprintOption {
	return func(opts *FingerprintOptions) {
		opts.Base = base
	}
}

// WithSeedString builds a reproducible key table. Ignored when WithBase is set.
func WithSeedString(seed string) FingerprintOption {
	return func(opts *FingerprintOptions) {
		opts.Seed = seed
	}
}

// WithVerify toggles recomputing every position from scratch as a check on
// the incremental hash.
func WithVerify(verify bool) FingerprintOption {
	return func(opts *FingerprintOptions) {
		opts.Verify = verify
	}
}

func newBoardHasher(opts FingerprintOptions) (*BoardHasher, error) {
	if opts.Base != nil {
		return NewBoardHasherFrom(opts.Base)
	}
	var tableOpts []zobrist.KeyTableOption
	if opts.Seed != "" {
		tableOpts = append(tableOpts, zobrist.WithSeedString(opts.Seed))
	}
	return NewBoardHasher(tableOpts...)
}

func colorName(c chess.Color) string {
	if c == chess.Black {
		return "Black"
	}
	return "White"
}

// fullMoveNumber reads the fullmove counter from the FEN of pos, so games set
// up from a FEN (possibly with black to move) number their moves correctly.
// ply is the index of the move played from pos, used if the FEN is unreadable.
func fullMoveNumber(pos *chess.Position, ply int) int {
	fields := strings.Fields(pos.String())
	if len(fields) == 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			return n
		}
	}
	return (ply / 2) + 1
}

// FingerprintGameStreaming hashes every main-line position of a PGN game,
// sending results through a channel. The error channel yields at most one
// error and is closed after the results channel.
func FingerprintGameStreaming(pgn string, opts ...FingerprintOption) (<-chan *PositionFingerprint, <-chan error) {
	fpOpts := defaultFingerprintOptions
	for _, opt := range opts {
		opt(&fpOpts)
	}

	results := make(chan *PositionFingerprint)
	errc := make(chan error, 1)

	if strings.TrimSpace(pgn) == "" {
		errc <- ErrEmptyPGN
		close(results)
		close(errc)
		return results, errc
	}

	go func() {
		defer close(errc)
		defer close(results)

		hasher, err := newBoardHasher(fpOpts)
		if err != nil {
			errc <- err
			return
		}

		log.Info("Parsing PGN")
		pgnOpt, err := chess.PGN(strings.NewReader(pgn))
		if err != nil {
			log.Error("Error parsing PGN", "error", err)
			errc <- errors.Wrap(err, "error parsing PGN")
			return
		}
		game := chess.NewGame(pgnOpt)
		moves := game.Moves()
		positions := game.Positions()
		log.Info("Game created", "moves", len(moves), "positions", len(positions))
		if len(positions) == 0 {
			errc <- errors.New("chesshash: game has no positions")
			return
		}

		seen := make(map[uint64]int)
		emit := func(f *PositionFingerprint, pos *chess.Position) bool {
			if fpOpts.Verify {
				full, err := hasher.FullHash(pos)
				if err != nil {
					errc <- err
					return false
				}
				if full != f.Hash {
					log.Error("Hash mismatch", "ply", f.Ply, "incremental", f.Hash, "full", full)
					errc <- errors.Wrapf(ErrHashMismatch, "ply %d: %016x != %016x", f.Ply, f.Hash, full)
					return false
				}
			}
			seen[f.Hash]++
			f.Occurrence = seen[f.Hash]
			results <- f
			return true
		}

		start := positions[0]
		if !emit(&PositionFingerprint{
			Ply:        0,
			MoveNumber: 0,
			Color:      colorName(start.Turn()),
			FEN:        start.String(),
			Hash:       hasher.Load(start),
		}, start) {
			return
		}

		for i, move := range moves {
			if i+1 >= len(positions) {
				break
			}
			prev, next := positions[i], positions[i+1]
			f := &PositionFingerprint{
				Ply:        i + 1,
				MoveNumber: fullMoveNumber(prev, i),
				Color:      colorName(prev.Turn()),
				MoveText:   chess.AlgebraicNotation{}.Encode(prev, move),
				FEN:        next.String(),
				Hash:       hasher.Apply(prev, next),
			}
			if !emit(f, next) {
				return
			}
		}
	}()

	return results, errc
}

// FingerprintGame collects FingerprintGameStreaming into a slice.
func FingerprintGame(pgn string, opts ...FingerprintOption) ([]PositionFingerprint, error) {
	resultsChan, errChan := FingerprintGameStreaming(pgn, opts...)

	results := make([]PositionFingerprint, 0)
	for f := range resultsChan {
		results = append(results, *f)
	}

	if err := <-errChan; err != nil {
		return nil, err
	}

	log.Info("Fingerprinting complete", "positions", len(results))
	return results, nil
}

// RepeatedHashes returns, in ascending order, every hash that occurs more
// than once among fingerprints.
func RepeatedHashes(fingerprints []PositionFingerprint) []uint64 {
	counts := make(map[uint64]int)
	for _, f := range fingerprints {
		counts[f.Hash]++
	}
	repeated := maps.Keys(counts)
	slices.Sort(repeated)
	return slices.DeleteFunc(repeated, func(h uint64) bool {
		return counts[h] < 2
	})
}
