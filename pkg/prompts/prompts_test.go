package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtraction_IncludesMessageAndSchema(t *testing.T) {
	prompt := Extraction("Dr. Smith is great at COSC 1570")

	assert.Contains(t, prompt, "Dr. Smith is great at COSC 1570")
	assert.Contains(t, prompt, `"is_feedback"`)
	assert.Contains(t, prompt, `"confidence"`)
	assert.Contains(t, prompt, "exam_difficulty")
	assert.Contains(t, prompt, "teaching_quality")
	// All six aspects must be listed in the schema.
	for _, aspect := range []string{
		"teaching_quality", "grading_fairness", "workload",
		"communication", "engagement", "exam_difficulty",
	} {
		assert.Contains(t, prompt, aspect)
	}
}

func TestIntent_IncludesQueryAndEnums(t *testing.T) {
	prompt := Intent("who is better for calculus?")

	assert.Contains(t, prompt, "who is better for calculus?")
	for _, intent := range []string{`"search"`, `"compare"`, `"course"`, `"general"`} {
		assert.Contains(t, prompt, intent)
	}
}

func TestComparison_RendersBothProfiles(t *testing.T) {
	a := CompareProfile{
		Name:          "John Smith",
		Department:    "COSC",
		Rating:        4.2,
		FeedbackCount: 17,
		AspectMeans:   map[string]float64{"teaching_quality": 4.5, "workload": 3.1},
		Strengths:     []string{"clear lectures"},
	}
	b := CompareProfile{
		Name:          "Jane Doe",
		Rating:        3.8,
		FeedbackCount: 9,
		Weaknesses:    []string{"slow grading"},
	}

	prompt := Comparison(a, b, "who grades more fairly?")

	assert.Contains(t, prompt, "PROFESSOR 1: John Smith")
	assert.Contains(t, prompt, "PROFESSOR 2: Jane Doe")
	assert.Contains(t, prompt, "4.2/5.0 (17 feedbacks)")
	assert.Contains(t, prompt, "clear lectures")
	assert.Contains(t, prompt, "slow grading")
	assert.Contains(t, prompt, "who grades more fairly?")

	// Aspect lines are rendered deterministically.
	tq := strings.Index(prompt, "teaching_quality: 4.5/5")
	wl := strings.Index(prompt, "workload: 3.1/5")
	assert.True(t, tq >= 0 && wl >= 0 && tq < wl)
}
