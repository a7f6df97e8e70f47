package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(t.TempDir())
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestSignatureIgnoresSurroundingSpace(t *testing.T) {
	assert.Equal(t, Signature("disk full"), Signature("  disk full\n"))
	assert.NotEqual(t, Signature("disk full"), Signature("disk empty"))
	assert.Len(t, Signature("anything"), 8)
}

func TestReflect(t *testing.T) {
	tests := map[string]struct {
		fixes   []string
		message string
		exp     Reflection
	}{
		"Unknown errors ask for analysis": {
			message: "action failed: out/report.md does not exist",
			exp: Reflection{
				Action:    ActionAnalyze,
				Fix:       "no recorded fix; analyze the error and record one",
				Signature: Signature("action failed: out/report.md does not exist"),
				Source:    SourceInference,
			},
		},
		"A recorded fix is returned": {
			fixes:   []string{"create the out directory first"},
			message: "action failed: out/report.md does not exist",
			exp: Reflection{
				Action:    ActionApplyKnownFix,
				Fix:       "create the out directory first",
				Signature: Signature("action failed: out/report.md does not exist"),
				Source:    SourceMemory,
			},
		},
		"The latest fix wins": {
			fixes:   []string{"retry", "raise the timeout to 5m"},
			message: "timeout",
			exp: Reflection{
				Action:    ActionApplyKnownFix,
				Fix:       "raise the timeout to 5m",
				Signature: Signature("timeout"),
				Source:    SourceMemory,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t)
			for _, fix := range test.fixes {
				_, err := m.RecordFix(test.message, fix, map[string]string{"workflow": "report"})
				require.NoError(t, err)
			}

			got := m.Reflect(test.message)
			assert.Equal(t, test.exp, got)
			assert.Equal(t, len(test.fixes) > 0, got.Known())
		})
	}
}

func TestRecordErrorAppends(t *testing.T) {
	m := newTestManager(t)

	sig, err := m.RecordError("boom", map[string]string{"step": "build", "session": ""})
	require.NoError(t, err)
	_, err = m.RecordError("boom", nil)
	require.NoError(t, err)

	note, err := m.ReadNote(ErrorOccurred, sig)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(note, "# [2026-03-01T12:00:00Z] error_occurred"))
	assert.Contains(t, note, "- step: build\n")
	assert.NotContains(t, note, "- session:", "empty attributes are skipped")
	assert.Contains(t, note, "```\nboom\n```")

	// Recording the error alone teaches nothing.
	assert.False(t, m.Reflect("boom").Known())
}

func TestRecordDecision(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.RecordDecision("swarm", "complexity 8 of 10", nil))

	note, err := m.ReadNote(KeyDecision, Signature("swarm"))
	require.NoError(t, err)
	assert.Contains(t, note, "## Decision\nswarm\n\n## Reason\ncomplexity 8 of 10")
	_, err = os.Stat(filepath.Join(m.Dir(), "key_decision", Signature("swarm")+".md"))
	assert.NoError(t, err)
}

func TestInvalidInput(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.WriteNote(TaskStart, "../escape", "x", nil))
	_, err := m.RecordFix("boom", "   ", nil)
	assert.Error(t, err)
	_, err = m.ReadNote(ErrorFixed, "missing")
	assert.ErrorIs(t, err, ErrNoteNotFound)
}
