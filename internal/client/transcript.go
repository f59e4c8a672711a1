package client

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// transcriptReader tails a JSONL transcript incrementally, tracking a byte
// offset so each readNew call returns only lines appended since the last.
type transcriptReader struct {
	mu       sync.Mutex
	path     string
	offset   int64
	activity time.Time
}

// transcriptLine is one JSONL record of the hosted CLI.
type transcriptLine struct {
	Type    string `json:"type"` // "assistant", "result", ...
	Content string `json:"content"`
	Done    bool   `json:"done,omitempty"`
}

func newTranscriptReader(path string) *transcriptReader {
	return &transcriptReader{path: path}
}

// markOffset pins the offset to the current end of file so a turn only
// reads its own output. A missing file pins to zero.
func (r *transcriptReader) markOffset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, err := os.Stat(r.path)
	if err != nil {
		r.offset = 0
		return
	}
	r.offset = info.Size()
}

// readNew returns assistant text appended since the last call and whether an
// end-of-turn marker was seen. Unparseable lines are skipped; the pane
// fallback covers transcripts that never materialize.
func (r *transcriptReader) readNew() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	if _, err := f.Seek(r.offset, 0); err != nil {
		return "", false
	}

	var out string
	endOfTurn := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	consumed := r.offset
	for scanner.Scan() {
		raw := scanner.Bytes()
		consumed += int64(len(raw)) + 1
		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		switch line.Type {
		case "assistant":
			out += line.Content
		case "result":
			endOfTurn = true
		}
		if line.Done {
			endOfTurn = true
		}
	}
	r.offset = consumed
	if out != "" || endOfTurn {
		r.activity = time.Now()
	}
	return out, endOfTurn
}

// lastActivity reports when the transcript last produced content.
func (r *transcriptReader) lastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activity
}
