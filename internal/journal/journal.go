// Package journal writes durable per-thread Markdown transcripts.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const titleMaxChars = 24

// Meta is the thread front-matter that does not change across turns.
type Meta struct {
	RuntimeKind   string // agent|client
	AgentProvider string // set for agent threads
	TmuxClient    string // set for client threads
}

// Thread is an open journal file.
type Thread struct {
	ID     string
	Path   string
	ChatID string
	turns  int
}

// Journal manages thread files under <ws>/.msgcode/threads. One active
// thread per chat; Reset rotates so the next write opens a fresh file.
type Journal struct {
	mu      sync.Mutex
	dir     string
	ws      string
	active  map[string]*Thread
	nowFunc func() time.Time
}

// Open returns the journal for a workspace. Nothing touches the disk until
// the first write.
func Open(workspacePath string) *Journal {
	return &Journal{
		dir:     filepath.Join(workspacePath, ".msgcode", "threads"),
		ws:      workspacePath,
		active:  make(map[string]*Thread),
		nowFunc: time.Now,
	}
}

// EnsureThread resolves the active thread for a chat, creating the file with
// front-matter on first use.
func (j *Journal) EnsureThread(chatID, firstUserText string, meta Meta) (*Thread, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if t, ok := j.active[chatID]; ok {
		return t, nil
	}
	now := j.nowFunc()
	title := deriveTitle(firstUserText)
	path, err := j.uniquePath(now, title)
	if err != nil {
		return nil, err
	}

	t := &Thread{ID: uuid.NewString(), Path: path, ChatID: chatID}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "threadId: %s\n", t.ID)
	fmt.Fprintf(&b, "chatId: %s\n", chatID)
	fmt.Fprintf(&b, "workspace: %s\n", filepath.Base(j.ws))
	fmt.Fprintf(&b, "workspacePath: %s\n", j.ws)
	fmt.Fprintf(&b, "createdAt: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "runtimeKind: %s\n", meta.RuntimeKind)
	if meta.AgentProvider != "" {
		fmt.Fprintf(&b, "agentProvider: %s\n", meta.AgentProvider)
	}
	if meta.TmuxClient != "" {
		fmt.Fprintf(&b, "tmuxClient: %s\n", meta.TmuxClient)
	}
	b.WriteString("---\n")

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return nil, err
	}
	j.active[chatID] = t
	return t, nil
}

// AppendTurn appends one exchange to the thread file.
func (j *Journal) AppendTurn(t *Thread, userText, assistantText string, ts time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	t.turns++
	block := fmt.Sprintf("\n## Turn %d - %s\n\n### User\n\n%s\n\n### Assistant\n\n%s\n",
		t.turns, ts.Format(time.RFC3339), userText, assistantText)

	f, err := os.OpenFile(t.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return err
	}
	return f.Sync()
}

// Reset drops the active mapping so the next write creates a new thread.
func (j *Journal) Reset(chatID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.active, chatID)
}

// uniquePath finds a free <date>_<title>.md path, appending -2, -3, … on
// collision. Callers hold j.mu.
func (j *Journal) uniquePath(now time.Time, title string) (string, error) {
	base := fmt.Sprintf("%s_%s", now.Format("2006-01-02"), title)
	path := filepath.Join(j.dir, base+".md")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		} else if err != nil {
			return "", err
		}
		path = filepath.Join(j.dir, fmt.Sprintf("%s-%d.md", base, n))
	}
}

// deriveTitle takes the first 24 visible characters of the opening user
// turn, filtered to filesystem-safe runes.
func deriveTitle(text string) string {
	var b strings.Builder
	count := 0
	for _, r := range text {
		if count >= titleMaxChars {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		count++
		switch {
		case r == ' ':
			b.WriteRune('-')
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			// unsafe on some filesystems
		default:
			b.WriteRune(r)
		}
	}
	title := strings.Trim(b.String(), "-.")
	if title == "" {
		return "untitled"
	}
	return title
}
