// Package registry holds the catalog of skills the orchestrator can reuse.
package registry

import (
	"slices"
	"sort"
	"strings"

	"github.com/mtzanidakis/conductor/internal/config"
)

const (
	keywordWeight  = 0.4
	taskTypeWeight = 0.4
	maxScore       = 0.9
)

// Match is a skill ranked against a task.
type Match struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type Catalog struct {
	skills map[string]config.SkillConfig
	names  []string
}

func New(skills map[string]config.SkillConfig) *Catalog {
	c := &Catalog{skills: make(map[string]config.SkillConfig, len(skills))}
	for name, def := range skills {
		kw := make([]string, 0, len(def.Keywords))
		for _, k := range def.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		def.Keywords = kw
		c.skills[name] = def
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

func (c *Catalog) Get(name string) (config.SkillConfig, bool) {
	def, ok := c.skills[name]
	return def, ok
}

// Names returns the skill names in sorted order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// Match ranks the skills whose keywords or task types fit the task, best
// first. Every keyword found in the task and a matching task type each add
// to the score, which is capped below certainty.
func (c *Catalog) Match(task, taskType string) []Match {
	lower := strings.ToLower(task)

	var matches []Match
	for _, name := range c.names {
		def := c.skills[name]

		score := 0.0
		for _, k := range def.Keywords {
			if strings.Contains(lower, k) {
				score += keywordWeight
			}
		}
		if taskType != "" && slices.Contains(def.TaskTypes, taskType) {
			score += taskTypeWeight
		}
		if score == 0 {
			continue
		}
		matches = append(matches, Match{Name: name, Description: def.Description, Score: min(maxScore, score)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
