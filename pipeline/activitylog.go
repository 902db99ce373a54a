/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"bytes"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Emoji markers distinguish activity-log entry kinds at a glance, the
// same role the evaluation reports' pass/fail glyphs play in the
// teacher's table output.
const (
	emojiEvaluated      = "🔍"
	emojiApproved       = "✅"
	emojiRejected       = "🚫"
	emojiPROpened       = "📬"
	emojiIterating      = "🔁"
	emojiThreatDetected = "⚠️"
	emojiCompeting      = "🏁"
	emojiError          = "💥"
	emojiLoopDetected   = "🔂"
)

// ActivityEntry is one line of the human-facing activity log - not the
// cryptographically chained audit log, which records decisions for
// verification, but a plain append-only narrative an operator reads.
type ActivityEntry struct {
	Time   time.Time
	Emoji  string
	Repo   string
	Target string
	Detail string
}

// ActivityLog is the orchestrator's bounded, single-writer/multi-reader
// narrative log. Mutated only from the cooperative scheduler, per §5.
type ActivityLog struct {
	mu      sync.Mutex
	entries []ActivityEntry
	cap     int
}

// defaultActivityLogCapacity bounds memory; once full, the oldest
// entries fall off as new ones are recorded.
const defaultActivityLogCapacity = 1000

// NewActivityLog returns an empty log bounded at the default capacity.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{cap: defaultActivityLogCapacity}
}

// Record appends an entry, evicting the oldest if the log is at
// capacity.
func (l *ActivityLog) Record(emoji, repo, target, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ActivityEntry{Time: now(), Emoji: emoji, Repo: repo, Target: target, Detail: detail})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

func (l *ActivityLog) Evaluated(repo, target, detail string)      { l.Record(emojiEvaluated, repo, target, detail) }
func (l *ActivityLog) Approved(repo, target, detail string)       { l.Record(emojiApproved, repo, target, detail) }
func (l *ActivityLog) Rejected(repo, target, detail string)       { l.Record(emojiRejected, repo, target, detail) }
func (l *ActivityLog) PROpened(repo, target, detail string)       { l.Record(emojiPROpened, repo, target, detail) }
func (l *ActivityLog) Iterating(repo, target, detail string)      { l.Record(emojiIterating, repo, target, detail) }
func (l *ActivityLog) ThreatDetected(repo, target, detail string) { l.Record(emojiThreatDetected, repo, target, detail) }
func (l *ActivityLog) CompetingAnalyzed(repo, target, detail string) {
	l.Record(emojiCompeting, repo, target, detail)
}
func (l *ActivityLog) Error(repo, target, detail string)         { l.Record(emojiError, repo, target, detail) }
func (l *ActivityLog) LoopDetected(repo, target, detail string) { l.Record(emojiLoopDetected, repo, target, detail) }

// Recent returns the last n entries, oldest first.
func (l *ActivityLog) Recent(n int) []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]ActivityEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Render formats the last n entries as a markdown table, the same
// tablewriter configuration (Blueprint renderer, markdown symbols, left
// alignment, no row wrapping) the evaluation reports use.
func (l *ActivityLog) Render(n int) string {
	entries := l.Recent(n)

	var buf bytes.Buffer
	table := newActivityTable(&buf)
	for _, e := range entries {
		_ = table.Append([]string{e.Time.UTC().Format(time.RFC3339), e.Emoji, e.Repo, e.Target, e.Detail})
	}
	_ = table.Render()
	return buf.String()
}

func newActivityTable(buf *bytes.Buffer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 120,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(buf,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader([]string{"time", "", "repo", "target", "detail"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
