// Package memory keeps markdown notes about past runs: errors seen, the fixes
// that resolved them and key decisions. Notes live under
// <dir>/<trigger>/<id>.md and only ever grow; each write appends a
// timestamped entry.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNoteNotFound = errors.New("note not found")

// Trigger names the situation a note was written in. It is also the note's
// subdirectory.
type Trigger string

const (
	TaskStart     Trigger = "task_start"
	KeyDecision   Trigger = "key_decision"
	ErrorOccurred Trigger = "error_occurred"
	ErrorFixed    Trigger = "error_fixed"
	TaskComplete  Trigger = "task_complete"
)

const (
	ActionApplyKnownFix = "apply_known_fix"
	ActionAnalyze       = "analyze"

	SourceMemory    = "memory"
	SourceInference = "inference"
)

const (
	entryPrefix = "# ["
	fixHeading  = "## Fix"
)

// Reflection is the advice for an error: a fix recorded for the same
// signature, or a request to analyze it.
type Reflection struct {
	Action    string `json:"action"`
	Fix       string `json:"fix"`
	Signature string `json:"error_signature"`
	Source    string `json:"source"`
}

// Known reports whether the reflection carries a recorded fix.
func (r Reflection) Known() bool {
	return r.Action == ActionApplyKnownFix
}

type Manager struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func New(dir string) *Manager {
	return &Manager{dir: dir, now: time.Now}
}

func (m *Manager) Dir() string {
	return m.dir
}

// Signature identifies an error message independently of surrounding
// whitespace.
func Signature(message string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(message)))
	return hex.EncodeToString(sum[:])[:8]
}

// WriteNote appends content to the note id of trigger. attrs are rendered as
// a sorted list under the entry header.
func (m *Manager) WriteNote(trigger Trigger, id, content string, attrs map[string]string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid note id %q", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s] %s\n\n", entryPrefix, m.now().UTC().Format(time.RFC3339), trigger)
	if len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if attrs[k] != "" {
				fmt.Fprintf(&b, "- %s: %s\n", k, attrs[k])
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n\n")

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.dir, string(trigger))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create note dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, id+".md"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open note: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write note: %w", err)
	}
	return f.Close()
}

func (m *Manager) ReadNote(trigger Trigger, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(m.dir, string(trigger), id+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s/%s: %w", trigger, id, ErrNoteNotFound)
		}
		return "", fmt.Errorf("read note: %w", err)
	}
	return string(data), nil
}

// RecordError notes an occurrence of message and returns its signature.
func (m *Manager) RecordError(message string, attrs map[string]string) (string, error) {
	sig := Signature(message)
	content := fmt.Sprintf("## Error\n```\n%s\n```", strings.TrimSpace(message))
	if err := m.WriteNote(ErrorOccurred, sig, content, attrs); err != nil {
		return "", err
	}
	return sig, nil
}

// RecordFix stores fix as the latest resolution of message.
func (m *Manager) RecordFix(message, fix string, attrs map[string]string) (string, error) {
	fix = strings.TrimSpace(fix)
	if fix == "" {
		return "", errors.New("record fix: empty fix")
	}
	sig, err := m.RecordError(message, attrs)
	if err != nil {
		return "", err
	}
	if err := m.WriteNote(ErrorFixed, sig, fixHeading+"\n"+fix, attrs); err != nil {
		return "", err
	}
	slog.Debug("fix recorded", "signature", sig)
	return sig, nil
}

// KnownFix returns the most recently recorded fix for message.
func (m *Manager) KnownFix(message string) (string, bool, error) {
	note, err := m.ReadNote(ErrorFixed, Signature(message))
	if errors.Is(err, ErrNoteNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	fix := lastEntry(note)
	if i := strings.Index(fix, fixHeading); i >= 0 {
		fix = fix[i+len(fixHeading):]
	}
	fix = strings.TrimSpace(fix)
	return fix, fix != "", nil
}

// Reflect looks message up in recorded fixes. A read failure is logged and
// treated as no fix.
func (m *Manager) Reflect(message string) Reflection {
	sig := Signature(message)
	fix, ok, err := m.KnownFix(message)
	if err != nil {
		slog.Warn("read known fix failed", "signature", sig, "error", err)
	}
	if ok {
		return Reflection{Action: ActionApplyKnownFix, Fix: fix, Signature: sig, Source: SourceMemory}
	}
	return Reflection{
		Action:    ActionAnalyze,
		Fix:       "no recorded fix; analyze the error and record one",
		Signature: sig,
		Source:    SourceInference,
	}
}

func (m *Manager) RecordDecision(decision, reason string, attrs map[string]string) error {
	content := fmt.Sprintf("## Decision\n%s\n\n## Reason\n%s", decision, reason)
	return m.WriteNote(KeyDecision, Signature(decision), content, attrs)
}

// lastEntry returns the body of the last appended entry of a note.
func lastEntry(note string) string {
	start := strings.LastIndex(note, "\n"+entryPrefix)
	if start < 0 {
		start = 0
	} else {
		start++
	}
	entry := note[start:]
	if nl := strings.IndexByte(entry, '\n'); nl >= 0 {
		entry = entry[nl+1:]
	}
	return entry
}
