package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/unicode/norm"
)

// MinTokens is the floor below which a message is too short to carry
// usable feedback.
const MinTokens = 3

var (
	titlePattern         = regexp.MustCompile(`(?i)\b(dr|prof|professor|mr|mrs|ms|phd|ph\.d)\.?\s*`)
	parentheticalPattern = regexp.MustCompile(`\([^)]*\)`)
	nameCharPattern      = regexp.MustCompile(`[^\p{L}\p{N}\s\-]`)
	multiNewlinePattern  = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern    = regexp.MustCompile(` {2,}`)

	courseCodePattern      = regexp.MustCompile(`\b([A-Z]{2,4})\s*-?\s*(\d{3,4})\b`)
	courseCodeTightPattern = regexp.MustCompile(`\b([A-Z]{2,4})(\d{3,4})\b`)

	ratingPatterns = []struct {
		re    *regexp.Regexp
		scale float64
	}{
		{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*5\b`), 5},
		{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10\b`), 10},
		{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:из|out of)\s*5\b`), 5},
		{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:stars?|звезд)`), 5},
		{regexp.MustCompile(`(?:rating|оценка|баҳо)[:\s]\s*(\d+(?:\.\d+)?)`), 5},
	}
)

func init() {
	// "data" is already singular in course titles ("Data Structures");
	// the default inflection rules would turn it into "datum".
	inflection.AddUncountable("data")
}

// cyrillicToLatin transliterates Cyrillic for cross-script name matching.
// The same professor shows up as "Иванов" and "Ivanov" in group chats.
var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "i", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// CleanText normalizes raw message text: Unicode NFKC, control characters
// stripped (newlines and tabs kept), whitespace collapsed per line.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	text = b.String()

	text = multiNewlinePattern.ReplaceAllString(text, "\n\n")
	text = multiSpacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// TooShort reports whether cleaned text has too few tokens to be feedback.
func TooShort(text string) bool {
	return len(strings.Fields(text)) < MinTokens
}

// NormalizeName canonicalizes a professor name for matching: casefold,
// titles and parentheticals stripped, Cyrillic transliterated,
// "Last, First" swapped to "First Last", whitespace collapsed.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if lat, ok := cyrillicToLatin[unicode.ToLower(r)]; ok {
			b.WriteString(lat)
			continue
		}
		// Drop combining marks left over from NFKD so "Müller"
		// normalizes to "muller".
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.ToLower(strings.TrimSpace(b.String()))

	name = titlePattern.ReplaceAllString(name, "")
	name = parentheticalPattern.ReplaceAllString(name, "")

	// "Last, First" -> "First Last" before the comma is stripped
	if idx := strings.Index(name, ","); idx >= 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if last != "" && first != "" {
			name = first + " " + last
		}
	}

	name = nameCharPattern.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

// ExtractCourseCode finds the first course code mention in text and
// returns it in canonical "DEPT NNNN" form, or "" when absent.
func ExtractCourseCode(text string) string {
	if text == "" {
		return ""
	}
	upper := strings.ToUpper(text)

	if m := courseCodePattern.FindStringSubmatch(upper); m != nil {
		return m[1] + " " + m[2]
	}
	if m := courseCodeTightPattern.FindStringSubmatch(upper); m != nil {
		return m[1] + " " + m[2]
	}
	return ""
}

// NormalizeCourseTitle canonicalizes a course title for matching:
// lowercase, singularized tokens, whitespace collapsed. "Databases" and
// "database" land on the same form.
func NormalizeCourseTitle(title string) string {
	if title == "" {
		return ""
	}
	title = strings.ToLower(CleanText(title))
	tokens := strings.Fields(nameCharPattern.ReplaceAllString(title, ""))
	for i, tok := range tokens {
		tokens[i] = inflection.Singular(tok)
	}
	return strings.Join(tokens, " ")
}

// ExtractExplicitRating finds an explicit numeric rating in text and
// returns it normalized to the 1-5 scale. Ten-point ratings are halved.
// Returns (0, false) when no rating is present.
func ExtractExplicitRating(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	lower := strings.ToLower(text)

	for _, p := range ratingPatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if p.scale == 10 {
			value /= 2
		}
		if value < 1 {
			value = 1
		}
		if value > 5 {
			value = 5
		}
		return value, true
	}
	return 0, false
}
