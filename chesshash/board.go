package chesshash

import (
	chess "github.com/corentings/chess/v2"
	"github.com/pkg/errors"

	"github.com/makaw/minimax4j/zobrist"
)

const (
	// NumPieceKinds is the number of key rows a chess hasher needs: the twelve
	// pieces plus one row whose first key marks black to move.
	NumPieceKinds = 13
	NumSquares    = 64

	sideToMoveKind   = 12
	sideToMoveSquare = 0
)

var ErrIncompatibleHasher = errors.New("chesshash: base hasher must be 13x64")

// BoardHasher keeps a Zobrist hash in step with a chess board.
type BoardHasher struct {
	h    *zobrist.Hasher
	turn chess.Color // side to move the hash currently encodes
}

// NewBoardHasher builds a chess-shaped key table of its own.
func NewBoardHasher(opts ...zobrist.KeyTableOption) (*BoardHasher, error) {
	h, err := zobrist.New(NumPieceKinds, NumSquares, opts...)
	if err != nil {
		return nil, err
	}
	return &BoardHasher{h: h, turn: chess.White}, nil
}

// NewBoardHasherFrom forks base, so the result hashes in base's lineage.
// The returned hasher starts from an empty board.
func NewBoardHasherFrom(base *zobrist.Hasher) (*BoardHasher, error) {
	t := base.Table()
	if t.Pieces() != NumPieceKinds || t.Positions() != NumSquares {
		return nil, errors.Wrapf(ErrIncompatibleHasher, "got %dx%d", t.Pieces(), t.Positions())
	}
	h := base.Clone()
	h.Reset()
	return &BoardHasher{h: h, turn: chess.White}, nil
}

// pieceKind maps a chess piece to its key row; ok is false for empty squares.
func pieceKind(p chess.Piece) (int, bool) {
	if p == chess.NoPiece {
		return 0, false
	}
	return int(p) - 1, true
}

// Load hashes pos from scratch.
func (b *BoardHasher) Load(pos *chess.Position) uint64 {
	b.h.Reset()
	b.turn = chess.White
	board := pos.Board()
	for sq := 0; sq < NumSquares; sq++ {
		if kind, ok := pieceKind(board.Piece(chess.Square(sq))); ok {
			b.h.Add(kind, sq)
		}
	}
	return b.SetTurn(pos.Turn())
}

// SetTurn makes the hash encode c as the side to move. Only a change of side
// toggles the side key, so repeated calls with the same color are no-ops.
func (b *BoardHasher) SetTurn(c chess.Color) uint64 {
	if (b.turn == chess.Black) != (c == chess.Black) {
		b.h.Add(sideToMoveKind, sideToMoveSquare)
	}
	b.turn = c
	return b.h.Hash()
}

// Turn returns the side to move the hash currently encodes.
func (b *BoardHasher) Turn() chess.Color {
	return b.turn
}

// Apply moves the hash from prev to next, touching only squares whose
// contents differ. prev must be the position the hash currently reflects.
func (b *BoardHasher) Apply(prev, next *chess.Position) uint64 {
	from, to := prev.Board(), next.Board()
	for sq := 0; sq < NumSquares; sq++ {
		before := from.Piece(chess.Square(sq))
		after := to.Piece(chess.Square(sq))
		if before == after {
			continue
		}
		if kind, ok := pieceKind(before); ok {
			b.h.Remove(kind, sq)
		}
		if kind, ok := pieceKind(after); ok {
			b.h.Add(kind, sq)
		}
	}
	return b.SetTurn(next.Turn())
}

func (b *BoardHasher) Hash() uint64 {
	return b.h.Hash()
}

// Clone forks the board hash; both sides share the key table.
func (b *BoardHasher) Clone() *BoardHasher {
	return &BoardHasher{h: b.h.Clone(), turn: b.turn}
}

// FullHash recomputes the hash of pos without touching the running hash.
func (b *BoardHasher) FullHash(pos *chess.Position) (uint64, error) {
	return b.h.Table().HashOf(placements(pos)...)
}

func placements(pos *chess.Position) []zobrist.Placement {
	var out []zobrist.Placement
	for sq, p := range pos.Board().SquareMap() {
		if kind, ok := pieceKind(p); ok {
			out = append(out, zobrist.Placement{Piece: kind, Position: int(sq)})
		}
	}
	if pos.Turn() == chess.Black {
		out = append(out, zobrist.Placement{Piece: sideToMoveKind, Position: sideToMoveSquare})
	}
	return out
}
