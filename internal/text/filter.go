// Package text provides input filtering for speech synthesis.
//
// LLM-produced text tends to carry markdown markup, emoji and control
// characters that read badly when spoken. The preprocessor strips those while
// keeping the spoken content intact. It runs on every request unless the
// REMOVE_FILTER toggle disables it.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for markup removal.
const (
	fencedCodePattern = "```[a-zA-Z0-9]*\n?"
	inlineCodePattern = "`([^`]*)`"
	linkPattern       = `\[([^\]]*)\]\([^)]*\)`
	imagePattern      = `!\[[^\]]*\]\([^)]*\)`
	headingPattern    = `(?m)^#{1,6}\s*`
	emphasisPattern   = `(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`
	listMarkerPattern = `(?m)^\s*[-*+]\s+`
	whitespacePattern = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	ellipsisChar = "…"
	ellipsis     = "..."
)

// Preprocessor strips markup and non-speakable characters from input text.
type Preprocessor struct {
	fencedCode  *regexp.Regexp
	inlineCode  *regexp.Regexp
	link        *regexp.Regexp
	image       *regexp.Regexp
	heading     *regexp.Regexp
	emphasis    *regexp.Regexp
	listMarker  *regexp.Regexp
	whitespace  *regexp.Regexp
	punctuation *strings.Replacer
}

// NewPreprocessor creates a preprocessor with all patterns compiled upfront.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		fencedCode: regexp.MustCompile(fencedCodePattern),
		inlineCode: regexp.MustCompile(inlineCodePattern),
		link:       regexp.MustCompile(linkPattern),
		image:      regexp.MustCompile(imagePattern),
		heading:    regexp.MustCompile(headingPattern),
		emphasis:   regexp.MustCompile(emphasisPattern),
		listMarker: regexp.MustCompile(listMarkerPattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		punctuation: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText normalizes input text for synthesis. Cheaper transformations
// run first; the markup passes preserve the readable content of links, code
// spans and emphasis.
func (p *Preprocessor) PreprocessText(input string) string {
	if input == "" {
		return input
	}

	// Step 1: drop markup that has no spoken content.
	cleaned := p.image.ReplaceAllString(input, "")
	cleaned = p.fencedCode.ReplaceAllString(cleaned, "")

	// Step 2: unwrap markup that carries spoken content.
	cleaned = p.link.ReplaceAllString(cleaned, "$1")
	cleaned = p.inlineCode.ReplaceAllString(cleaned, "$1")
	cleaned = p.emphasis.ReplaceAllString(cleaned, "$2")
	cleaned = p.heading.ReplaceAllString(cleaned, "")
	cleaned = p.listMarker.ReplaceAllString(cleaned, "")

	// Step 3: remove characters synthesis cannot voice.
	cleaned = removeNonSpeakable(cleaned)

	// Step 4: normalize punctuation and whitespace.
	cleaned = p.punctuation.Replace(cleaned)
	cleaned = p.whitespace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	return ensureSentenceEnding(cleaned)
}

// removeNonSpeakable filters out emoji, symbols and control characters while
// keeping letters, digits, punctuation and spaces of any script.
func removeNonSpeakable(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	for _, r := range input {
		switch {
		case r == '\n' || r == '\t':
			builder.WriteRune(' ')
		case unicode.IsControl(r):
			// Dropped.
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Co):
			// Emoji and other symbol runes are dropped.
		case r >= 0x1F000 && r <= 0x1FAFF:
			// Emoji blocks outside the So category.
		case r == 0xFE0F || r == 0x200D:
			// Variation selectors and zero-width joiners.
		default:
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// ensureSentenceEnding appends a period when the text does not already end in
// sentence punctuation. Synthesis engines pause more naturally on terminated
// sentences.
func ensureSentenceEnding(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	lastRune, _ := utf8.DecodeLastRuneInString(trimmed)

	switch lastRune {
	case '.', '!', '?', '。', '！', '？', ':', ';':
		return trimmed
	}

	if unicode.IsPunct(lastRune) {
		return trimmed
	}

	return trimmed + "."
}
