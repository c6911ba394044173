package node

// mateCategory ranks a node's terminal status for best-child comparison:
// forced win > neutral > forced loss.
type mateCategory int

const (
	categoryLoss mateCategory = iota
	categoryNeutral
	categoryWin
)

func (n *Node) mateCategory() mateCategory {
	switch {
	case n.IsMateForSide():
		return categoryWin
	case n.IsOpponentMate():
		return categoryLoss
	default:
		return categoryNeutral
	}
}

// WorseThan reports whether a is strictly worse than b, using the
// lexicographic ordering from spec §4.5:
//  1. lower tablebase rank loses outright;
//  2. else a worse terminal category loses (within forced win, a larger
//     mate distance is worse; within forced loss, a smaller
//     opponent-mate distance is worse);
//  3. else fewer visits loses.
func WorseThan(a, b *Node) bool {
	if a.TablebaseRank() != b.TablebaseRank() {
		return a.TablebaseRank() < b.TablebaseRank()
	}

	ca, cb := a.mateCategory(), b.mateCategory()
	if ca != cb {
		return ca < cb
	}

	switch ca {
	case categoryWin:
		if a.MateDistance() != b.MateDistance() {
			return a.MateDistance() > b.MateDistance() // smaller mate distance wins
		}
	case categoryLoss:
		if a.OpponentMateDistance() != b.OpponentMateDistance() {
			return a.OpponentMateDistance() < b.OpponentMateDistance() // larger opponent-mate distance wins
		}
	}

	return a.VisitCount() < b.VisitCount()
}
