// Package persistence durably snapshots the current run to live_state.json:
// atomic writes with a round-trip validation check, throttled to one disk
// write per interval except at run-defining transitions, and a
// schema-validated, best-effort recovery path on load for documents left
// behind by an older or interrupted writer.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// SchemaVersion is bumped whenever the persisted Document shape changes
// incompatibly.
const SchemaVersion = 1

// DefaultWriteInterval is the minimum spacing between throttled disk
// writes; callers bypass it with Save(run, true) at key transitions.
const DefaultWriteInterval = 3 * time.Second

// Document is the top-level shape written to live_state.json.
type Document struct {
	SchemaVersion int        `json:"schema_version"`
	Run           *model.Run `json:"run"`
}

// Store manages the on-disk live_state.json for one run.
type Store struct {
	path     string
	interval time.Duration
	schema   *jsonschema.Schema
	log      logr.Logger

	mu        sync.Mutex
	lastWrite time.Time
	lastHash  [32]byte
}

// NewStore compiles the validation schema and returns a Store writing to
// path. log may be the zero value (it is checked before use).
func NewStore(path string, log logr.Logger) (*Store, error) {
	schema, err := compileDocSchema()
	if err != nil {
		return nil, fmt.Errorf("compile live-state schema: %w", err)
	}
	return &Store{path: path, interval: DefaultWriteInterval, schema: schema, log: log}, nil
}

// Save writes run to disk. Unless force is true, the write is skipped when
// the previous successful write happened less than the configured interval
// ago — callers pass force=true at step/run-boundary transitions so the
// file never goes stale across a restart.
func (s *Store) Save(run *model.Run, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && time.Since(s.lastWrite) < s.interval {
		return nil
	}

	doc := Document{SchemaVersion: SchemaVersion, Run: run}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal live state: %w", err)
	}

	// Content-addressed dedup: a forced write (step/run boundary) whose
	// document is byte-identical to what's already on disk still isn't
	// worth a rename, the way CXDBSink.storeArtifact skips re-uploading an
	// artifact it's already hashed.
	hash := blake3.Sum256(body)
	if hash == s.lastHash {
		s.lastWrite = time.Now()
		return nil
	}

	// Round-trip validation before committing: a document that doesn't
	// survive its own encode/decode cycle must never reach disk.
	var roundTrip Document
	if err := json.Unmarshal(body, &roundTrip); err != nil {
		return fmt.Errorf("round-trip validate live state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".live_state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp live state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp live state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp live state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp live state into place: %w", err)
	}

	s.lastWrite = time.Now()
	s.lastHash = hash
	return nil
}

// Load reads and validates live_state.json. A document that fails schema
// validation has its offending fields recovered field-by-field (see
// recoverField); any field that cannot be recovered resets to its zero
// value rather than failing the whole load, and the repaired document is
// written straight back to disk.
func (s *Store) Load() (*model.Run, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read live state: %w", err)
	}

	repaired, dirty, err := s.validateAndRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("validate live state: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(repaired, &doc); err != nil {
		return nil, fmt.Errorf("decode live state: %w", err)
	}

	if dirty && doc.Run != nil {
		if s.log.GetSink() != nil {
			s.log.Info("live_state.json had corrupted fields, resaving recovered document")
		}
		if err := s.Save(doc.Run, true); err != nil {
			return nil, fmt.Errorf("resave recovered live state: %w", err)
		}
	}
	return doc.Run, nil
}

// validateAndRepair runs raw through the compiled schema. On validation
// failure it walks the known object/array fields under "run" and attempts
// per-field recovery, reporting whether anything changed.
func (s *Store) validateAndRepair(raw []byte) ([]byte, bool, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false, fmt.Errorf("parse json: %w", err)
	}

	if err := s.schema.Validate(generic); err == nil {
		return raw, false, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("parse document: %w", err)
	}
	runRaw, ok := doc["run"]
	if !ok {
		return raw, false, nil
	}
	var run map[string]json.RawMessage
	if err := json.Unmarshal(runRaw, &run); err != nil {
		return nil, false, fmt.Errorf("parse run: %w", err)
	}

	dirty := false
	repairField := func(key string, wantArray bool) {
		field, present := run[key]
		if !present {
			return
		}
		var probe any
		if err := json.Unmarshal(field, &probe); err == nil {
			if wantArray {
				if _, isArr := probe.([]any); isArr {
					return
				}
			} else {
				if _, isObj := probe.(map[string]any); isObj {
					return
				}
			}
		}
		if recovered, ok := recoverField(field, wantArray); ok {
			run[key] = recovered
		} else if wantArray {
			run[key] = json.RawMessage("[]")
		} else {
			run[key] = json.RawMessage("{}")
		}
		dirty = true
	}

	for _, key := range objectFields {
		repairField(key, false)
	}
	for _, key := range arrayFields {
		repairField(key, true)
	}

	if !dirty {
		return raw, false, nil
	}

	runBody, err := json.Marshal(run)
	if err != nil {
		return nil, false, fmt.Errorf("remarshal run: %w", err)
	}
	doc["run"] = runBody
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("remarshal document: %w", err)
	}
	return body, true, nil
}
