package analysis

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
)

// maxDescriptionRunes caps the description sent to the model
const maxDescriptionRunes = 12000

// skillAliases maps common spelling variants to one canonical name
var skillAliases = map[string]string{
	"golang":     "Go",
	"go lang":    "Go",
	"javascript": "JavaScript",
	"js":         "JavaScript",
	"typescript": "TypeScript",
	"ts":         "TypeScript",
	"k8s":        "Kubernetes",
	"kubernetes": "Kubernetes",
	"postgres":   "PostgreSQL",
	"postgresql": "PostgreSQL",
	"react.js":   "React",
	"reactjs":    "React",
	"vue.js":     "Vue",
	"vuejs":      "Vue",
	"node.js":    "Node.js",
	"nodejs":     "Node.js",
}

// DescriptionText turns a captured job description, which is often HTML
// scraped from the job board, into plain text for the prompt.
func DescriptionText(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	if !strings.Contains(raw, "<") {
		return truncateRunes(cleanWhitespace(raw), maxDescriptionRunes), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", errors.Wrap(err, "failed to parse description HTML")
	}

	doc.Find("script, style, noscript, nav, footer, header, iframe, form, .apply-button, .similar-jobs").Remove()
	// Keep list items and paragraphs on their own lines
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, li, h1, h2, h3, h4, div, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return truncateRunes(cleanWhitespace(doc.Text()), maxDescriptionRunes), nil
}

// NormalizeSkills canonicalises known aliases and removes case-insensitive
// duplicates, preserving order
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]bool, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if canonical, ok := skillAliases[strings.ToLower(s)]; ok {
			s = canonical
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
