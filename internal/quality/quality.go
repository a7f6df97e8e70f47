// Package quality scores generated source text before a workflow accepts it.
// Only the boundary dimension is checked: empty-value guards and error
// handling.
package quality

import (
	"fmt"
	"regexp"
)

const PassThreshold = 0.7

const DimensionBoundary = "boundary"

var (
	emptyGuards = []*regexp.Regexp{
		regexp.MustCompile(`if\s+\w+\s+is\s+None`),
		regexp.MustCompile(`if\s+not\s+\w+`),
		regexp.MustCompile(`[!=]=\s*nil\b`),
		regexp.MustCompile(`len\([^)]*\)\s*(==|<=|<|>)\s*0\b`),
	}

	tryBlock    = regexp.MustCompile(`\btry\s*:`)
	exceptBlock = regexp.MustCompile(`\bexcept\b`)
	errCheck    = regexp.MustCompile(`\berr\s*!=\s*nil\b`)
	recoverCall = regexp.MustCompile(`\brecover\(\)`)
)

type Item struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Passed  bool    `json:"passed"`
	Details string  `json:"details,omitempty"`
}

type Dimension struct {
	Name   string  `json:"name"`
	Items  []Item  `json:"items"`
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

type Report struct {
	Dimensions      []Dimension `json:"dimensions"`
	Score           float64     `json:"score"`
	Threshold       float64     `json:"threshold"`
	Passed          bool        `json:"passed"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// Check scores content. A threshold of zero or less uses PassThreshold.
func Check(content string, threshold float64) Report {
	if threshold <= 0 {
		threshold = PassThreshold
	}

	r := Report{Threshold: threshold}
	r.Dimensions = append(r.Dimensions, checkBoundary(content, threshold))

	var total float64
	for _, d := range r.Dimensions {
		total += d.Score
		for _, it := range d.Items {
			if !it.Passed {
				r.Recommendations = append(r.Recommendations, fmt.Sprintf("%s: improve %s (%s)", d.Name, it.Name, it.Details))
			}
		}
	}
	r.Score = total / float64(len(r.Dimensions))
	r.Passed = r.Score >= threshold
	return r
}

func checkBoundary(content string, threshold float64) Dimension {
	d := Dimension{Name: DimensionBoundary}

	kinds := 0
	for _, re := range emptyGuards {
		if re.MatchString(content) {
			kinds++
		}
	}
	empty := min(1, float64(kinds)/2)
	d.Items = append(d.Items, Item{
		Name:    "empty_value_checks",
		Score:   empty,
		Passed:  empty >= 0.5,
		Details: fmt.Sprintf("%d kinds of empty-value guard", kinds),
	})

	guards := count(tryBlock, content) + count(errCheck, content) + count(recoverCall, content)
	handlers := guards + count(exceptBlock, content)
	d.Items = append(d.Items, Item{
		Name:    "error_handling",
		Score:   min(1, float64(handlers)/2),
		Passed:  guards > 0,
		Details: fmt.Sprintf("%d error handlers", handlers),
	})

	var total float64
	for _, it := range d.Items {
		total += it.Score
	}
	d.Score = total / float64(len(d.Items))
	d.Passed = d.Score >= threshold
	return d
}

func count(re *regexp.Regexp, content string) int {
	return len(re.FindAllStringIndex(content, -1))
}
