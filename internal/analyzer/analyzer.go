// Package analyzer estimates how complex a free-text task is.
package analyzer

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mtzanidakis/conductor/internal/config"
)

const (
	GeneralTaskType = "general"
	defaultBase     = 3
)

var (
	stepIndicators   = []string{"then", "next", "after that", "afterwards", "finally", "first", "second", "third"}
	integrationWords = []string{"integrate", "integration", "combine"}
	multiWords       = []string{"multiple", "multi", "several"}
	partWords        = []string{"module", "feature", "component", "service"}
	scratchWords     = []string{"from scratch", "from zero", "complete", "end-to-end"}
)

// KeywordScorer classifies a task by keyword patterns and scores it 1..10.
type KeywordScorer struct {
	types    []string
	patterns map[string]config.TaskPattern
}

func NewKeywordScorer(cfg config.AnalyzerConfig) *KeywordScorer {
	s := &KeywordScorer{patterns: make(map[string]config.TaskPattern, len(cfg.Patterns))}
	for name, p := range cfg.Patterns {
		kw := make([]string, 0, len(p.Keywords))
		for _, k := range p.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		p.Keywords = kw
		s.patterns[name] = p
		s.types = append(s.types, name)
	}
	sort.Strings(s.types)
	return s
}

// TaskType returns the pattern with the most keyword hits. Ties go to the
// alphabetically first type; no hits at all is GeneralTaskType.
func (s *KeywordScorer) TaskType(task string) string {
	lower := strings.ToLower(task)

	best, bestHits := GeneralTaskType, 0
	for _, name := range s.types {
		hits := countContained(lower, s.patterns[name].Keywords)
		if hits > bestHits {
			best, bestHits = name, hits
		}
	}
	return best
}

// Score returns the complexity of task and its task type.
func (s *KeywordScorer) Score(task string) (int, string) {
	taskType := s.TaskType(task)
	lower := strings.ToLower(task)

	score := defaultBase
	if p, ok := s.patterns[taskType]; ok && p.ComplexityBase > 0 {
		score = p.ComplexityBase
	}

	steps := countContained(lower, stepIndicators)
	if steps >= 1 {
		score++
	}
	if steps >= 3 {
		score++
	}
	if countContained(lower, integrationWords) > 0 {
		score++
	}
	if countContained(lower, multiWords) > 0 && countContained(lower, partWords) > 0 {
		score += 2
	}
	if countContained(lower, scratchWords) > 0 {
		score += 2
	}

	n := utf8.RuneCountInString(task)
	if n > 100 {
		score++
	}
	if n > 200 {
		score++
	}

	return min(10, max(1, score)), taskType
}

func countContained(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}
