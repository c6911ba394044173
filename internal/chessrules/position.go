package chessrules

// Position is the chess rule engine's mutable board handle. The search
// package treats it purely through this interface; move generation,
// legality, Zobrist hashing, and draw bookkeeping all live on the other side
// of it. Implementations are expected to be cheap to Copy and cheap to
// DoMove/UndoMove, since one copy is descended and restored per search
// iteration (see internal/searchpath).
type Position interface {
	// Set resets the position to the given FEN string.
	Set(fen string) error

	// Copy returns an independent deep copy that can be mutated without
	// affecting the receiver.
	Copy() Position

	// DoMove applies a legal move, pushing undo information.
	DoMove(m Move)

	// UndoMove reverses the most recent DoMove.
	UndoMove()

	// GenerateLegalMoves returns every legal move from the current position.
	GenerateLegalMoves() []Move

	// InCheck reports whether the side to move is in check.
	InCheck() bool

	// IsThreefoldRepetitionAfter reports whether the current position has
	// already occurred (including the current occurrence) ply-many half
	// moves ago or more, counting from the supplied reference ply. Used to
	// distinguish "has repeated strictly after the search root" (ply >
	// searchRootPly) from full-game threefold detection.
	IsThreefoldRepetitionAfter(ply int) bool

	// IsThreefoldRepetition reports a full threefold repetition over the
	// entire game history.
	IsThreefoldRepetition() bool

	// Rule50Count returns the half-move counter since the last capture or
	// pawn push.
	Rule50Count() int

	// Key returns the Zobrist hash of the position, including side to move
	// and castling/en-passant rights.
	Key() uint64

	// Ply returns the number of half-moves played since the search root was
	// set (not since game start).
	Ply() int

	// PieceCount returns the total number of pieces left on the board,
	// used to gate tablebase probing and endgame material checks.
	PieceCount() int

	// SideToMove returns true if it is White to move.
	SideToMove() bool

	// FlipSideToMoveForDebug toggles the side to move without touching
	// anything else. Used only by tests that need to probe symmetric
	// evaluation behavior.
	FlipSideToMoveForDebug()

	// FEN renders the current position as a FEN string.
	FEN() string
}
