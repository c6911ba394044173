package chessrules

import (
	"testing"

	"github.com/matryer/is"
)

func TestNewMoveRoundTripsFromToFlag(t *testing.T) {
	is := is.New(t)
	m := NewMove(12, 28, FlagDoublePawnPush)
	is.Equal(m.From(), uint8(12))
	is.Equal(m.To(), uint8(28))
	is.Equal(m.Flag(), FlagDoublePawnPush)
}

func TestIsPromotionOnlyTrueForPromotionFlags(t *testing.T) {
	is := is.New(t)
	is.True(!NewMove(0, 1, FlagQuiet).IsPromotion())
	is.True(!NewMove(0, 1, FlagCapture).IsPromotion())
	is.True(NewMove(0, 1, FlagPromoQueen).IsPromotion())
	is.True(NewMove(0, 1, FlagPromoCaptureKnight).IsPromotion())
}

func TestIsCaptureCoversPlainAndPromotionCaptures(t *testing.T) {
	is := is.New(t)
	is.True(NewMove(0, 1, FlagCapture).IsCapture())
	is.True(NewMove(0, 1, FlagEnPassant).IsCapture())
	is.True(NewMove(0, 1, FlagPromoCaptureRook).IsCapture())
	is.True(!NewMove(0, 1, FlagQuiet).IsCapture())
	is.True(!NewMove(0, 1, FlagPromoQueen).IsCapture())
}

func TestIsCastleOnlyTrueForCastleFlags(t *testing.T) {
	is := is.New(t)
	is.True(NewMove(4, 6, FlagKingCastle).IsCastle())
	is.True(NewMove(4, 2, FlagQueenCastle).IsCastle())
	is.True(!NewMove(4, 6, FlagQuiet).IsCastle())
}

func TestIsEnPassant(t *testing.T) {
	is := is.New(t)
	is.True(NewMove(0, 1, FlagEnPassant).IsEnPassant())
	is.True(!NewMove(0, 1, FlagCapture).IsEnPassant())
}

func TestUCIRendersQuietAndPromotionMoves(t *testing.T) {
	is := is.New(t)
	is.Equal(NewMove(12, 28, FlagDoublePawnPush).UCI(), "e2e4")
	is.Equal(NewMove(52, 60, FlagPromoQueen).UCI(), "e7e8q")
	is.Equal(NewMove(52, 61, FlagPromoCaptureKnight).UCI(), "e7f8n")
}

func TestUCINoMoveRendersNullMove(t *testing.T) {
	is := is.New(t)
	is.Equal(NoMove.UCI(), "0000")
}

func TestStringMatchesUCI(t *testing.T) {
	is := is.New(t)
	m := NewMove(1, 2, FlagQuiet)
	is.Equal(m.String(), m.UCI())
}
