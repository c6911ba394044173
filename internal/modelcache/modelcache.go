// Package modelcache caches loaded ONNX model bytes under a caller-chosen key
// so the search network and the self-play network (and repeated construction
// across engine restarts within a process, e.g. tests) don't each re-read
// the same .onnx file; every Instance still decodes those bytes into its own
// graph. Adapted from macondo's generic
// key->loadFunc object cache (cache/cache.go), narrowed to one object kind
// and extended with the "updated network" flag the ChessCoach engine polls
// for (spec §6.2).
package modelcache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/rs/zerolog/log"
)

type objectCache struct {
	mu        sync.Mutex
	templates map[string]*ONNXTemplate
}

var global = &objectCache{templates: make(map[string]*ONNXTemplate)}

// ONNXTemplate holds the raw bytes of a loaded ONNX graph, plus the file's
// last-observed modification time so a background watcher can flip
// updatedSinceLoad when a newer model is written to the same path.
type ONNXTemplate struct {
	path string
	data []byte

	mu               sync.Mutex
	modTime          time.Time
	updatedSinceLoad bool
}

// Instance is one runnable graph bound to a fresh backend, mirroring the
// teacher's MLModel: the template holds immutable bytes, each instance owns
// its own gorgonnx.Graph and decoded onnx.Model.
type Instance struct {
	Backend *gorgonnx.Graph
	Model   *onnx.Model
}

// LoadONNXTemplate returns the cached template under key, reading path from
// disk the first time key is seen; a later call with the same key returns
// that template whatever path it passes. Decoding happens in NewInstance.
func LoadONNXTemplate(key, path string) (*ONNXTemplate, error) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if t, ok := global.templates[key]; ok {
		return t, nil
	}

	log.Debug().Str("key", key).Str("path", path).Msg("modelcache-load")
	data, modTime, err := readModel(path)
	if err != nil {
		return nil, err
	}
	t := &ONNXTemplate{path: path, data: data, modTime: modTime}
	global.templates[key] = t
	return t, nil
}

func readModel(path string) ([]byte, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("modelcache: read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("modelcache: stat %s: %w", path, err)
	}
	return data, info.ModTime(), nil
}

// Refresh re-stats the template's backing file and, if it changed, reloads
// it and marks updatedSinceLoad. Intended to be polled by the NN evaluator
// at the spec's 5-minute rate limit rather than on every batch.
func (t *ONNXTemplate) Refresh() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.path)
	if err != nil {
		return fmt.Errorf("modelcache: stat %s: %w", t.path, err)
	}
	if !info.ModTime().After(t.modTime) {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("modelcache: reload %s: %w", t.path, err)
	}
	t.data = data
	t.modTime = info.ModTime()
	t.updatedSinceLoad = true
	log.Info().Str("path", t.path).Msg("modelcache-reloaded")
	return nil
}

// ConsumeUpdatedFlag reports and clears whether Refresh loaded a newer file
// since the last call.
func (t *ONNXTemplate) ConsumeUpdatedFlag() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.updatedSinceLoad
	t.updatedSinceLoad = false
	return v
}

// NewInstance decodes the template's current bytes into a fresh runnable
// graph, the same split as the teacher's MLModelTemplate.NewInstance.
func (t *ONNXTemplate) NewInstance() (*Instance, error) {
	t.mu.Lock()
	data := t.data
	t.mu.Unlock()

	start := time.Now()
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("modelcache: unmarshal onnx model: %w", err)
	}
	log.Debug().Int64("onnx-model-init-ms", time.Since(start).Milliseconds()).Msg("modelcache-instance")
	return &Instance{Backend: backend, Model: model}, nil
}
