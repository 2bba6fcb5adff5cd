package llm

import (
	"testing"
)

func TestExtractJSON_CleanPayloads(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"flat object", `{"is_feedback": true, "rating": 4}`},
		{"array of objects", `[{"aspect": "workload"}, {"aspect": "communication"}]`},
		{"deeply nested", `{"aspects": {"workload": {"sentiment": "negative"}}}`},
		{"arrays inside objects", `{"strengths": ["clear lectures", "fair grading"], "ratings": [5, 4, 5]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.input {
				t.Errorf("expected %q, got %q", tt.input, result)
			}
		})
	}
}

func TestExtractJSON_StripsReasoningBlock(t *testing.T) {
	input := `<think>
The message mentions two professors, so this is a comparison.
</think>
{"intent": "compare", "professor_names": ["Ivanova", "Petrov"]}`

	expected := `{"intent": "compare", "professor_names": ["Ivanova", "Petrov"]}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestExtractJSON_LeadingWhitespaceBeforeReasoning(t *testing.T) {
	input := `
<think>short</think>
  {"intent": "search"}`

	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"intent": "search"}` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestExtractJSON_IgnoresSurroundingProse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			"prose before",
			"Here is the extraction result:\n" + `{"is_feedback": false}`,
			`{"is_feedback": false}`,
		},
		{
			"prose after",
			`{"is_feedback": false}` + "\nLet me know if you need anything else.",
			`{"is_feedback": false}`,
		},
		{
			"markdown fence",
			"```json\n" + `{"rating": 3}` + "\n```",
			`{"rating": 3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExtractJSON_BracketsInsideStringValues(t *testing.T) {
	// Feedback text quoted back by the model can itself contain brackets
	// and escaped quotes.
	input := `{"comment": "grading [rubric] was a {mess}", "quote": "she said \"read the syllabus\"", "ok": true}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestExtractJSON_ArrayFirstWinsOverLaterObject(t *testing.T) {
	input := `["workload", "engagement"] trailing {"ignored": true}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `["workload", "engagement"]` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain prose", "Sorry, I cannot classify that message."},
		{"unterminated object", `{"intent": "search"`},
		{"empty input", ""},
		{"unterminated reasoning", "<think>still thinking"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExtractJSON(tt.input); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestParseJSONResponse_IntentPayload(t *testing.T) {
	type intentPayload struct {
		Intent         string   `json:"intent"`
		ProfessorNames []string `json:"professor_names"`
	}

	input := `<think>comparison of two names</think>{"intent": "compare", "professor_names": ["Smith", "Jones"]}`
	result, err := ParseJSONResponse[intentPayload](input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Intent != "compare" {
		t.Errorf("expected intent 'compare', got %q", result.Intent)
	}
	if len(result.ProfessorNames) != 2 || result.ProfessorNames[1] != "Jones" {
		t.Errorf("unexpected professor names: %v", result.ProfessorNames)
	}
}

func TestParseJSONResponse_AspectList(t *testing.T) {
	type aspect struct {
		Aspect    string `json:"aspect"`
		Sentiment string `json:"sentiment"`
	}

	input := `[{"aspect": "workload", "sentiment": "negative"}, {"aspect": "teaching_quality", "sentiment": "positive"}]`
	result, err := ParseJSONResponse[[]aspect](input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 aspects, got %d", len(result))
	}
	if result[0].Aspect != "workload" || result[0].Sentiment != "negative" {
		t.Errorf("unexpected first aspect: %+v", result[0])
	}
}

func TestParseJSONResponse_TypeMismatch(t *testing.T) {
	type payload struct {
		Rating int `json:"rating"`
	}

	if _, err := ParseJSONResponse[payload](`{"rating": "five"}`); err == nil {
		t.Error("expected unmarshal error for string rating")
	}
}
