package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stages the core writes under.
const (
	StageCommanderRouter   = "commander_router"
	StageExecuteFromPacket = "execute_from_packet"
)

// Record is one journal line. Timestamps are UTC without sub-second precision.
type Record struct {
	RunID   string         `json:"run_id"`
	TS      string         `json:"ts"`
	Stage   string         `json:"stage"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

var errMissingField = errors.New("eventlog: run_id, stage and event are required")

// Logger appends records to a JSONL file, fsyncing every write. Durability is
// prioritized over throughput; concurrent writers serialize on the mutex.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Logger{path: path, now: time.Now}, nil
}

// Append writes one record. A nil payload becomes an empty object.
func (l *Logger) Append(runID, stage, event string, payload map[string]any) error {
	if l == nil {
		return nil
	}
	if runID == "" || stage == "" || event == "" {
		return errMissingField
	}
	if payload == nil {
		payload = map[string]any{}
	}

	rec := Record{
		RunID:   runID,
		TS:      l.now().UTC().Format("2006-01-02T15:04:05Z"),
		Stage:   stage,
		Event:   event,
		Payload: payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Read loads a journal back, skipping malformed lines. Used by tests and
// replay tooling.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
