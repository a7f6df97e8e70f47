// Package scenario maps a task's complexity estimate to an execution strategy.
package scenario

import (
	"errors"
	"fmt"
)

// Type identifies one of the execution strategies.
type Type string

const (
	PromptEnhancement Type = "prompt_enhancement"
	SkillReuse        Type = "skill_reuse"
	PlanReview        Type = "plan_review"
	LeadMember        Type = "lead_member"
	Composite         Type = "composite"
)

// Mode tells the orchestration loop how a scenario is executed.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeSwarm  Mode = "swarm"
)

const (
	MinComplexity = 1
	MaxComplexity = 10
)

var ErrComplexityOutOfRange = errors.New("complexity out of range")

// Range is an inclusive complexity interval.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) Contains(c int) bool {
	return c >= r.Min && c <= r.Max
}

// Info describes a scenario. Values are static and returned by copy.
type Info struct {
	Type                 Type   `json:"type"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	ComplexityRange      Range  `json:"complexity_range"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	MaxAgents            int    `json:"max_agents"`
	EstimatedSteps       int    `json:"estimated_steps"`
}

// Mode reports whether the scenario runs as a single workflow or fans out
// into a swarm of subtasks.
func (i Info) Mode() Mode {
	switch i.Type {
	case LeadMember, Composite:
		return ModeSwarm
	default:
		return ModeSingle
	}
}

var catalog = []Info{
	{
		Type:                 PromptEnhancement,
		Name:                 "Prompt Enhancement",
		Description:          "Simple task: enhance the prompt and execute directly",
		ComplexityRange:      Range{Min: 1, Max: 2},
		RequiresConfirmation: false,
		MaxAgents:            1,
		EstimatedSteps:       1,
	},
	{
		Type:                 SkillReuse,
		Name:                 "Skill Reuse",
		Description:          "An existing skill covers the task: invoke it",
		ComplexityRange:      Range{Min: 3, Max: 5},
		RequiresConfirmation: false,
		MaxAgents:            1,
		EstimatedSteps:       2,
	},
	{
		Type:                 PlanReview,
		Name:                 "Plan + Review",
		Description:          "Plan, confirm, execute, then review",
		ComplexityRange:      Range{Min: 3, Max: 5},
		RequiresConfirmation: false,
		MaxAgents:            3,
		EstimatedSteps:       4,
	},
	{
		Type:                 LeadMember,
		Name:                 "Lead-Member",
		Description:          "A lead coordinates while members execute in parallel",
		ComplexityRange:      Range{Min: 6, Max: 10},
		RequiresConfirmation: true,
		MaxAgents:            5,
		EstimatedSteps:       5,
	},
	{
		Type:                 Composite,
		Name:                 "Composite",
		Description:          "Dynamically combine several scenarios",
		ComplexityRange:      Range{Min: 6, Max: 10},
		RequiresConfirmation: true,
		MaxAgents:            10,
		EstimatedSteps:       7,
	},
}

// Select picks the scenario for a task. The first matching rule wins:
//
//  1. complexity <= 2: Prompt Enhancement
//  2. complexity 3..5 with a matching skill: Skill Reuse
//  3. complexity 3..5 without one: Plan + Review
//  4. complexity >= 6: Lead-Member
//
// Composite is never selected here; use ByType to obtain it. Complexity
// outside 1..10 returns ErrComplexityOutOfRange.
func Select(complexity int, task string, hasMatchingSkill bool) (Info, error) {
	if complexity < MinComplexity || complexity > MaxComplexity {
		return Info{}, fmt.Errorf("select scenario for complexity %d: %w", complexity, ErrComplexityOutOfRange)
	}

	var t Type
	switch {
	case complexity <= 2:
		t = PromptEnhancement
	case complexity <= 5 && hasMatchingSkill:
		t = SkillReuse
	case complexity <= 5:
		t = PlanReview
	default:
		t = LeadMember
	}

	info, _ := ByType(t)
	return info, nil
}

// ByType returns the scenario registered for t, including Composite.
func ByType(t Type) (Info, bool) {
	for _, info := range catalog {
		if info.Type == t {
			return info, true
		}
	}
	return Info{}, false
}

// All returns every scenario in catalog order.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Clamp bounds a raw complexity score to the accepted range.
func Clamp(complexity int) int {
	return min(MaxComplexity, max(MinComplexity, complexity))
}
