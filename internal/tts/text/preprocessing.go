// Package text normalises podcast prompts before they are sent to the speech
// generator.
package text

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for text preprocessing.
const (
	urlRegexPattern        = `https?://\S+`
	whitespaceRegexPattern = `\s+`
	tokenRegexPattern      = `\S+`
)

// Characters that may wrap an abbreviation without being part of it.
const (
	openingPunctuation = `("'[`
	closingPunctuation = `,;:!?)"']`
)

// Placeholder for URLs kept out of punctuation cleanup.
const urlPlaceholderPattern = `__URL_PLACEHOLDER_%d__`

// Punctuation constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// ErrPromptTooLong is returned when a prompt is longer than the configured limit.
var ErrPromptTooLong = errors.New("prompt is too long")

// Preprocessor normalises prompt text for speech generation.
type Preprocessor struct {
	urlPattern          *regexp.Regexp
	whitespacePattern   *regexp.Regexp
	tokenPattern        *regexp.Regexp
	abbreviations       map[string]string
	punctuationReplacer *strings.Replacer
	maxLength           int
}

// NewPreprocessor creates a preprocessor that rejects prompts longer than
// maxLength characters after normalisation. A non-positive maxLength disables
// the check.
func NewPreprocessor(maxLength int) *Preprocessor {
	return &Preprocessor{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		tokenPattern:      regexp.MustCompile(tokenRegexPattern),
		abbreviations: map[string]string{
			"Mr.":  "Mister",
			"Mrs.": "Misses",
			"Ms.":  "Miss",
			"Dr.":  "Doctor",
			"e.g.": "for example",
			"i.e.": "that is",
			"etc.": "et cetera",
			"vs.":  "versus",
		},
		punctuationReplacer: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		maxLength: maxLength,
	}
}

// Normalize applies PreprocessText and enforces the length limit.
func (p *Preprocessor) Normalize(text string) (string, error) {
	normalized := p.PreprocessText(text)

	length := utf8.RuneCountInString(normalized)
	if p.maxLength > 0 && length > p.maxLength {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrPromptTooLong, length, p.maxLength)
	}

	return normalized, nil
}

// PreprocessText expands abbreviations, normalises quotes and dashes, squashes
// repeated punctuation and collapses whitespace. URLs are left untouched.
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preservedText, placeholders := p.preserveURLs(text)

	normalizedText := p.punctuationReplacer.Replace(preservedText)
	normalizedText = p.expandAbbreviations(normalizedText)

	cleanedText := p.removeExcessivePunctuation(normalizedText)
	cleanedText = p.normalizeWhitespace(cleanedText)

	return p.restoreURLs(cleanedText, placeholders)
}

// expandAbbreviations replaces whole-word abbreviations only, so "devs." and
// "revs." are left alone while "(Dr. Who)" becomes "(Doctor Who)".
func (p *Preprocessor) expandAbbreviations(text string) string {
	return p.tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		word := strings.TrimLeft(token, openingPunctuation)
		core := strings.TrimRight(word, closingPunctuation)

		expansion, ok := p.abbreviations[core]
		if !ok {
			return token
		}

		return token[:len(token)-len(word)] + expansion + word[len(core):]
	})
}

// preserveURLs swaps URLs for placeholders so their punctuation survives.
func (p *Preprocessor) preserveURLs(text string) (string, map[string]string) {
	placeholders := make(map[string]string)
	counter := 0

	replaced := p.urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		placeholder := fmt.Sprintf(urlPlaceholderPattern, counter)
		placeholders[placeholder] = match
		counter++

		return placeholder
	})

	return replaced, placeholders
}

func (p *Preprocessor) restoreURLs(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

func (p *Preprocessor) normalizeWhitespace(text string) string {
	return strings.TrimSpace(p.whitespacePattern.ReplaceAllString(text, " "))
}

// removeExcessivePunctuation collapses runs of the same punctuation mark, so
// "!!!" becomes "!" while "..." and "?!" are kept.
func (p *Preprocessor) removeExcessivePunctuation(text string) string {
	var (
		builder  strings.Builder
		lastRune rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		repeated := char == lastRune && unicode.IsPunct(char)
		if repeated && char != '.' && char != '_' {
			continue
		}

		lastRune = char

		builder.WriteRune(char)
	}

	return builder.String()
}
