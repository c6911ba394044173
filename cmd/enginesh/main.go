// Command enginesh is an interactive debug shell for driving the search
// engine directly (position set, go, stop, bestmove, self-play) without a
// full UCI front end, grounded on the teacher's readline-based shellLoop
// (shell.go) and its signal-driven main loop (main.go).
//
// The chess rule library is an external collaborator (spec §6.1): this
// binary links against whatever concrete chessrules.Position the embedder
// supplies by setting the package variable positionFactory in an init()
// function, before main runs. Without a factory set, "position" reports an error rather than the shell silently
// doing nothing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/engineconfig"
	"github.com/zerocoach/engine/internal/journal"
	"github.com/zerocoach/engine/internal/mcts"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/predcache"
	"github.com/zerocoach/engine/internal/searchfsm"
	"github.com/zerocoach/engine/internal/selfplay"
	"github.com/zerocoach/engine/internal/tablebase"
	"github.com/zerocoach/engine/internal/timecontrol"
)

var configPath = flag.String("config", "", "path to an engine config file")

// positionFactory builds a chessrules.Position from a FEN string. A real
// binary embedding this shell against a concrete rules library sets this
// in an init() before main runs; left nil, the "position" command reports
// an explanatory error instead of panicking.
var positionFactory func(fen string) (chessrules.Position, error)

// encoderFactory builds the position encoder and the fixed input-plane
// shape / policy-tensor size the linked neural network expects (spec
// §6.2). Like positionFactory, this is a domain-specific external
// collaborator this binary does not implement itself.
var encoderFactory func() (nneval.Encoder, nneval.PlaneShape, int)

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

func usage(w io.Writer) {
	io.WriteString(w, "commands:\n")
	io.WriteString(w, "position <fen>        - set the board from a FEN string\n")
	io.WriteString(w, "go infinite           - search until stop\n")
	io.WriteString(w, "go movetime <ms>       - search for a fixed number of milliseconds\n")
	io.WriteString(w, "go nodes <n>           - search for a fixed number of iterations\n")
	io.WriteString(w, "go wtime <ms> btime <ms> [winc <ms>] [binc <ms>] [movestogo <n>] - game-clock search\n")
	io.WriteString(w, "stop                   - stop the running search\n")
	io.WriteString(w, "ponderhit              - confirm the pondered move was played\n")
	io.WriteString(w, "selfplay <games> [workers] - generate self-play games and print results\n")
	io.WriteString(w, "cachehist [buckets]    - print the prediction cache's age histogram\n")
	io.WriteString(w, "cachestats             - print prediction cache fill/hit/eviction permilles\n")
	io.WriteString(w, "bye | exit             - quit\n")
}

type shell struct {
	session *searchfsm.Session
	arena   *node.Arena
	cache   *predcache.Cache
	cfg     *engineconfig.Config
}

func main() {
	flag.Parse()

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("enginesh: load config")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	evaluator, encoder, err := buildEvaluator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("enginesh: build evaluator")
	}

	cache := &predcache.Cache{}
	if err := cache.Allocate(cfg.PredictionCacheRequestGiB, cfg.PredictionCacheMinGiB); err != nil {
		log.Fatal().Err(err).Msg("enginesh: allocate cache")
	}

	arena := node.NewArena()
	session := searchfsm.NewSession(arena, evaluator, encoder, tablebase.NoProbe{}, cache, cfg)
	if cfg.JournalPath != "" {
		jrnl, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("enginesh: open journal")
		}
		defer jrnl.Close()
		session.Journal = jrnl
	}

	sh := &shell{
		session: session,
		arena:   arena,
		cache:   cache,
		cfg:     cfg,
	}

	sig := make(chan os.Signal, 1)
	go func() {
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("enginesh: got quit signal")
		os.Exit(0)
	}()

	l, err := readline.NewEx(&readline.Config{
		Prompt:              "\033[32mchessengine>\033[0m ",
		HistoryFile:         "/tmp/enginesh_history.tmp",
		EOFPrompt:           "exit",
		InterruptPrompt:     "^C",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("enginesh: readline init")
	}
	defer l.Close()

readlineLoop:
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break readlineLoop
			}
			continue
		} else if err == io.EOF {
			break readlineLoop
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == "bye" || line == "exit":
			break readlineLoop
		case line == "help":
			usage(l.Stderr())
		case strings.HasPrefix(line, "position "):
			sh.handlePosition(strings.TrimSpace(line[len("position "):]), l.Stderr())
		case strings.HasPrefix(line, "go"):
			sh.handleGo(strings.TrimSpace(line[2:]), l.Stderr())
		case line == "stop":
			sh.session.Stop()
		case line == "ponderhit":
			sh.session.PonderHit()
		case strings.HasPrefix(line, "selfplay "):
			sh.handleSelfPlay(strings.TrimSpace(line[len("selfplay "):]), l.Stderr())
		case strings.HasPrefix(line, "cachehist"):
			sh.handleCacheHist(strings.TrimSpace(line[len("cachehist"):]), l.Stderr())
		case line == "cachestats":
			fmt.Fprintf(l.Stderr(), "permille_full=%d permille_hits=%d permille_evictions=%d\n",
				sh.cache.PermilleFull(), sh.cache.PermilleHits(), sh.cache.PermilleEvictions())
		default:
			fmt.Fprintf(l.Stderr(), "unrecognized command: %q (try \"help\")\n", line)
		}
	}
	log.Info().Msg("enginesh: exiting")
}

func (sh *shell) handlePosition(fen string, w io.Writer) {
	if positionFactory == nil {
		fmt.Fprintln(w, "error: no chessrules.Position implementation is linked into this binary")
		return
	}
	pos, err := positionFactory(fen)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	sh.session.SetPosition(pos)
	fmt.Fprintln(w, "position set")
}

func (sh *shell) handleGo(args string, w io.Writer) {
	tc, err := parseGoArgs(args)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	result, err := sh.session.Go(context.Background(), mcts.Options{}, tc)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	fmt.Fprintf(w, "bestmove %s (iterations=%d stopreason=%v)\n", result.BestMove.UCI(), result.Iterations, result.StopReason)
}

func parseGoArgs(args string) (timecontrol.TimeControl, error) {
	fields := strings.Fields(args)
	var tc timecontrol.TimeControl
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "infinite":
			tc.Infinite = true
		case "ponder":
			tc.Pondering = true
		case "movetime":
			i++
			if i >= len(fields) {
				return tc, fmt.Errorf("movetime needs a value")
			}
			ms, err := strconv.ParseInt(fields[i], 10, 64)
			if err != nil {
				return tc, fmt.Errorf("bad movetime: %w", err)
			}
			tc.MoveTimeMs = ms
		case "nodes":
			i++
			if i >= len(fields) {
				return tc, fmt.Errorf("nodes needs a value")
			}
			n, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				return tc, fmt.Errorf("bad nodes: %w", err)
			}
			tc.Nodes = n
		case "mate":
			i++
			if i >= len(fields) {
				return tc, fmt.Errorf("mate needs a value")
			}
			k, err := strconv.ParseInt(fields[i], 10, 32)
			if err != nil {
				return tc, fmt.Errorf("bad mate: %w", err)
			}
			tc.MateIn = int32(k)
		case "wtime":
			i++
			tc.WhiteTimeMs, _ = strconv.ParseInt(fields[i], 10, 64)
		case "btime":
			i++
			tc.BlackTimeMs, _ = strconv.ParseInt(fields[i], 10, 64)
		case "winc":
			i++
			tc.WhiteIncMs, _ = strconv.ParseInt(fields[i], 10, 64)
		case "binc":
			i++
			tc.BlackIncMs, _ = strconv.ParseInt(fields[i], 10, 64)
		case "movestogo":
			i++
			n, _ := strconv.Atoi(fields[i])
			tc.MovesToGo = n
		}
	}
	return tc, nil
}

func (sh *shell) handleSelfPlay(args string, w io.Writer) {
	if positionFactory == nil {
		fmt.Fprintln(w, "error: no chessrules.Position implementation is linked into this binary")
		return
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		fmt.Fprintln(w, "usage: selfplay <games> [workers]")
		return
	}
	numGames, err := strconv.Atoi(fields[0])
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	workers := sh.cfg.SelfPlayWorkers
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			workers = n
		}
	}

	evaluator, encoder, err := buildEvaluator(sh.cfg)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	driver := &selfplay.Driver{
		Arena:     sh.arena,
		Cache:     sh.cache,
		Evaluator: evaluator,
		Encoder:   encoder,
		Tablebase: tablebase.NoProbe{},
		Config:    sh.cfg,
		NewPosition: func() (chessrules.Position, error) {
			return positionFactory(startingFEN)
		},
	}
	games, err := driver.GenerateGames(context.Background(), numGames, workers)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	for i, g := range games {
		fmt.Fprintf(w, "game %d: %d plies, result=%.1f\n", i, len(g.Plies), g.ResultFromWhitePerspective)
	}
}

const startingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func (sh *shell) handleCacheHist(args string, w io.Writer) {
	buckets := 10
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			buckets = n
		}
	}
	counts := sh.cache.AgeHistogram(buckets)
	for i, c := range counts {
		fmt.Fprintf(w, "bucket %2d: %s (%d)\n", i, strings.Repeat("#", barLength(c, counts)), c)
	}
}

func barLength(c int, all []int) int {
	max := 0
	for _, v := range all {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 0
	}
	return c * 60 / max
}

func buildEvaluator(cfg *engineconfig.Config) (nneval.Evaluator, nneval.Encoder, error) {
	if encoderFactory == nil {
		return nil, nil, fmt.Errorf("enginesh: no nneval.Encoder implementation is linked into this binary")
	}
	encoder, shape, policySize := encoderFactory()
	switch cfg.EvaluatorBackend {
	case "remote":
		ev, err := nneval.NewRemote(cfg.RemoteServerAddr, cfg.RemoteModelName, cfg.RemoteModelVersion, shape, policySize, cfg.RemoteRetries)
		return ev, encoder, err
	default:
		ev, err := nneval.NewLocalONNX("search", cfg.LocalModelPath, shape, policySize)
		return ev, encoder, err
	}
}
