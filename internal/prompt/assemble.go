package prompt

import (
	"fmt"
	"strings"

	"github.com/msgcode/msgcode/internal/memory"
	"github.com/msgcode/msgcode/internal/providers"
	"github.com/msgcode/msgcode/internal/window"
)

// Section caps in characters. Overflow truncates the lowest-priority
// sections first; provenance lines survive truncation.
const (
	capSoul    = 12000
	capSummary = 2000
	capMemory  = 2000
	capWindow  = 16000
	capUser    = 32000
)

// Input is everything the assembler may place into the message list.
type Input struct {
	Soul        Soul
	Summary     string
	MemoryHits  []memory.Hit
	MemoryCap   int // workspace memory.inject.maxChars; 0 means default
	WindowTurns []window.Turn
	UserText    string
	PiEnabled   bool
}

// Stats is the per-assembly observability record for the log line.
type Stats struct {
	SoulSource          string
	SoulPath            string
	SoulChars           int
	MemoryInjected      bool
	MemoryHitCount      int
	MemoryInjectedChars int
	WindowTurns         int
}

// Assemble builds the provider messages in the fixed order: soul, summary,
// memory, window, current user turn. The capability preamble is part of the
// soul system message when the tool loop is on.
func Assemble(in Input) ([]providers.Message, Stats) {
	var stats Stats
	var msgs []providers.Message

	var system strings.Builder
	stats.SoulSource = in.Soul.Source
	stats.SoulPath = in.Soul.Path
	if in.Soul.Content != "" {
		soul := truncateTail(in.Soul.Content, capSoul)
		stats.SoulChars = len(soul)
		system.WriteString(soul)
	}
	if in.PiEnabled {
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString(capabilitySection)
	}
	if system.Len() > 0 {
		msgs = append(msgs, providers.Message{Role: "system", Content: system.String()})
	}

	if in.Summary != "" {
		msgs = append(msgs, providers.Message{
			Role:    "system",
			Content: "Conversation summary so far:\n" + truncateTail(in.Summary, capSummary),
		})
	}

	if block, chars, count := memoryBlock(in.MemoryHits, in.MemoryCap); block != "" {
		stats.MemoryInjected = true
		stats.MemoryHitCount = count
		stats.MemoryInjectedChars = chars
		msgs = append(msgs, providers.Message{Role: "system", Content: block})
	}

	msgs = append(msgs, windowMessages(in.WindowTurns, &stats)...)

	msgs = append(msgs, providers.Message{
		Role:    "user",
		Content: truncateTail(in.UserText, capUser),
	})
	return msgs, stats
}

// memoryBlock renders recall hits with their provenance lines. Hits that do
// not fit under the cap are dropped whole, lowest score first (they arrive
// sorted best-first).
func memoryBlock(hits []memory.Hit, maxChars int) (string, int, int) {
	if len(hits) == 0 {
		return "", 0, 0
	}
	if maxChars <= 0 {
		maxChars = capMemory
	}
	var b strings.Builder
	b.WriteString("Long-term memory, most relevant first:\n")
	count := 0
	for _, h := range hits {
		entry := fmt.Sprintf("- [%s %.2f] %s\n", strings.Join(h.Reasons, "+"), h.Score, h.Text)
		if b.Len()+len(entry) > maxChars && count > 0 {
			break
		}
		if len(entry) > maxChars {
			// Even alone it does not fit: keep the provenance prefix,
			// truncate the text.
			keep := maxChars - len(entry) + len(h.Text)
			if keep < 0 {
				keep = 0
			}
			entry = fmt.Sprintf("- [%s %.2f] %s…\n", strings.Join(h.Reasons, "+"), h.Score, h.Text[:keep])
		}
		b.WriteString(entry)
		count++
	}
	if count == 0 {
		return "", 0, 0
	}
	return b.String(), b.Len(), count
}

// windowMessages renders the short-term window, evicting oldest turns first
// when over the char cap. The window is lower priority than the sections
// above it, so it shrinks before they do.
func windowMessages(turns []window.Turn, stats *Stats) []providers.Message {
	total := 0
	start := 0
	for i := len(turns) - 1; i >= 0; i-- {
		total += len(turns[i].User) + len(turns[i].Assistant)
		if total > capWindow {
			start = i + 1
			break
		}
	}
	kept := turns[start:]
	stats.WindowTurns = len(kept)
	msgs := make([]providers.Message, 0, len(kept)*2)
	for _, t := range kept {
		msgs = append(msgs,
			providers.Message{Role: "user", Content: t.User},
			providers.Message{Role: "assistant", Content: t.Assistant})
	}
	return msgs
}

func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

const capabilitySection = `You can call tools to act inside the bound workspace: read_file, write_file, edit_file, bash, and desktop. Work inside the workspace only. Desktop methods that change UI state require a confirm token. When a tool fails, report the failure; never pretend it succeeded.`
