// Package prompts builds the LLM prompts used for feedback extraction,
// query intent classification, and professor comparison.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractionSystemMessage primes the model for structured extraction.
const ExtractionSystemMessage = "You are an assistant that extracts structured data " +
	"from student feedback about university professors. You always respond with valid JSON " +
	"and nothing else."

// IntentSystemMessage primes the model for query intent classification.
const IntentSystemMessage = "You classify student queries about professors. " +
	"You always respond with valid JSON and nothing else."

// ComparisonSystemMessage primes the model for balanced comparison answers.
const ComparisonSystemMessage = "You are a helpful assistant for university students " +
	"comparing professors. Be objective and balanced; never make claims the data does not support."

// Extraction builds the full extraction prompt for a single message.
func Extraction(messageText string) string {
	var b strings.Builder

	b.WriteString("Analyze the following student message and extract structured feedback data.\n\n")
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Extract the professor name exactly as mentioned (preserve original spelling).\n")
	b.WriteString("2. Also provide a normalized professor name in Latin script, fixing common misspellings.\n")
	b.WriteString("3. Identify the course code if mentioned (format: DEPT NNNN, e.g., \"COSC 1570\").\n")
	b.WriteString("4. Determine sentiment from context and explicit statements.\n")
	b.WriteString("5. Rate teaching aspects on a 1-5 scale based on the feedback content.\n")
	b.WriteString("6. If information is not mentioned, set it to null.\n")
	b.WriteString("7. Be conservative with ratings: only rate aspects the feedback clearly addresses.\n")
	b.WriteString("8. Handle Russian, Uzbek, and English text.\n\n")

	b.WriteString("Return ONLY valid JSON with this exact structure. Do NOT wrap it in code fences:\n")
	b.WriteString(`{
    "is_feedback": true/false,
    "professor_name": "string or null",
    "professor_name_normalized": "string or null",
    "course_code": "string or null",
    "course_name": "string or null",
    "semester": "string or null",
    "summary": "one-sentence summary or null",
    "explicit_rating": number 1-5 or null,
    "inferred_rating": number 1-5 or null,
    "sentiment": "positive" | "negative" | "neutral" | "mixed" | null,
    "aspects": {
        "teaching_quality": {"score": 1-5, "comment": "brief note"},
        "grading_fairness": {"score": 1-5, "comment": "brief note"},
        "workload": {"score": 1-5, "comment": "brief note"},
        "communication": {"score": 1-5, "comment": "brief note"},
        "engagement": {"score": 1-5, "comment": "brief note"},
        "exam_difficulty": {"score": 1-5, "comment": "brief note"}
    },
    "strengths": ["point 1", "point 2"],
    "weaknesses": ["point 1", "point 2"],
    "confidence": 0.0-1.0,
    "language": "en" | "ru" | "uz",
    "is_appropriate": true/false
}`)
	b.WriteString("\n\nSCORING GUIDELINES:\n")
	b.WriteString("- 5: excellent, highly praised\n")
	b.WriteString("- 4: good, positive feedback\n")
	b.WriteString("- 3: average, neutral or mixed\n")
	b.WriteString("- 2: below average, some criticism\n")
	b.WriteString("- 1: poor, strong criticism\n\n")
	b.WriteString("Omit aspects the feedback does not mention from the \"aspects\" object entirely.\n\n")
	b.WriteString("Set \"is_feedback\" to false if the message is just a question, off-topic discussion, ")
	b.WriteString("or not related to a professor or course.\n")
	b.WriteString("Set \"is_appropriate\" to false if the message contains personal attacks, ")
	b.WriteString("discriminatory content, threats, harassment, or explicit content.\n\n")

	b.WriteString("STUDENT MESSAGE:\n\"\"\"\n")
	b.WriteString(messageText)
	b.WriteString("\n\"\"\"\n\nRemember: return ONLY the JSON, no explanations.")

	return b.String()
}

// Intent builds the intent-classification prompt for a user query.
func Intent(query string) string {
	var b strings.Builder

	b.WriteString("Analyze this student query and extract the intent.\n\n")
	b.WriteString("QUERY:\n\"\"\"")
	b.WriteString(query)
	b.WriteString("\"\"\"\n\n")
	b.WriteString("Return JSON only, no code fences:\n")
	b.WriteString(`{
    "intent": "search" | "compare" | "course" | "general",
    "professor_names": ["name1", "name2"] or [],
    "course_code": "string" or null
}`)

	return b.String()
}

// CompareProfile carries the aggregate data for one side of a comparison.
type CompareProfile struct {
	Name          string
	Department    string
	Rating        float64
	FeedbackCount int64
	AspectMeans   map[string]float64
	Strengths     []string
	Weaknesses    []string
}

// Comparison builds a prompt asking for a balanced two-professor comparison.
func Comparison(a, b CompareProfile, query string) string {
	var sb strings.Builder

	sb.WriteString("Help a student compare two professors based on collected feedback data.\n\n")
	writeProfile(&sb, 1, a)
	writeProfile(&sb, 2, b)

	sb.WriteString("STUDENT QUESTION: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString("Provide a fair comparison:\n")
	sb.WriteString("1. Brief overview of both professors\n")
	sb.WriteString("2. Key differences\n")
	sb.WriteString("3. Who might be better for different student needs\n\n")
	sb.WriteString("Keep the response under 400 words.")

	return sb.String()
}

func writeProfile(sb *strings.Builder, n int, p CompareProfile) {
	fmt.Fprintf(sb, "PROFESSOR %d: %s\n", n, p.Name)
	if p.Department != "" {
		fmt.Fprintf(sb, "- Department: %s\n", p.Department)
	}
	fmt.Fprintf(sb, "- Overall Rating: %.1f/5.0 (%d feedbacks)\n", p.Rating, p.FeedbackCount)
	for _, aspect := range sortedKeys(p.AspectMeans) {
		fmt.Fprintf(sb, "- %s: %.1f/5\n", aspect, p.AspectMeans[aspect])
	}
	if len(p.Strengths) > 0 {
		fmt.Fprintf(sb, "- Key Strengths: %s\n", strings.Join(p.Strengths, "; "))
	}
	if len(p.Weaknesses) > 0 {
		fmt.Fprintf(sb, "- Key Weaknesses: %s\n", strings.Join(p.Weaknesses, "; "))
	}
	sb.WriteString("\n")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
