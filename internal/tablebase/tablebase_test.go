package tablebase

import (
	"testing"

	"github.com/matryer/is"
)

func TestNoProbeNeverReportsAvailable(t *testing.T) {
	is := is.New(t)
	var p NoProbe
	is.True(!p.Available(3))
	is.True(!p.Available(0))
}

func TestNoProbeWDLIsAlwaysAMiss(t *testing.T) {
	is := is.New(t)
	var p NoProbe
	wdl, ok := p.ProbeWDL(nil)
	is.True(!ok)
	is.Equal(wdl, WDLDraw)
}

func TestNoProbeRootIsAlwaysAMiss(t *testing.T) {
	is := is.New(t)
	var p NoProbe
	moves, ok := p.ProbeRoot(nil)
	is.True(!ok)
	is.Equal(len(moves), 0)
}
