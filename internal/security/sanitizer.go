package security

import (
	"errors"
	"regexp"
	"strings"
)

// ErrPromptInjection marks input that tries to manipulate the model.
var ErrPromptInjection = errors.New("prompt injection detected")

const (
	maxPromptLen = 2000
	maxQueryLen  = 1000
	maxFilename  = 255
)

// Injection patterns, matched case-insensitively against user input before
// it reaches a prompt. Grouped by attack family.
var injectionPatterns = []*regexp.Regexp{
	// Instruction override
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|context)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)override\s+(all\s+)?(previous|prior|system)\s+(instructions?|prompts?|settings?)`),

	// Role manipulation
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+(a|an|if)`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
	regexp.MustCompile(`(?i)switch\s+to\s+\w+\s+(mode|persona)`),

	// System prompt extraction
	regexp.MustCompile(`(?i)(reveal|show|print|display|output|repeat)\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?)`),

	// Jailbreak modes
	regexp.MustCompile(`(?i)\b(dan|dude|evil|jailbreak)\s+mode\b`),
	regexp.MustCompile(`(?i)developer\s+mode`),
	regexp.MustCompile(`(?i)bypass\s+(the\s+)?(filter|safety|restriction)s?`),

	// Template/script injection
	regexp.MustCompile(`\{\{.*\}\}`),
	regexp.MustCompile(`\$\{.*\}`),
	regexp.MustCompile(`(?i)<script.*?>`),

	// Delimiter attacks
	regexp.MustCompile(`(?i)---+\s*(new|system|admin|ignore)`),
	regexp.MustCompile(`(?i)###\s*(new|system|admin|instruction)`),
	regexp.MustCompile(`(?i)\[(system|admin|instruction)\]`),
}

var sqlFragment = regexp.MustCompile(`(?i)(;\s*(drop|delete|truncate|update|insert)\b|--\s|/\*|\*/)`)

var wsRun = regexp.MustCompile(`\s+`)

// DetectInjection reports whether the input matches any known prompt
// manipulation pattern.
func DetectInjection(input string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// SanitizeForPrompt normalizes user text before prompt interpolation and
// rejects injection attempts. Output is whitespace-collapsed and capped.
func SanitizeForPrompt(input string) (string, error) {
	if DetectInjection(input) {
		return "", ErrPromptInjection
	}
	s := wsRun.ReplaceAllString(strings.TrimSpace(input), " ")
	if len(s) > maxPromptLen {
		s = s[:maxPromptLen] + "..."
	}
	return s, nil
}

// SanitizeSearchQuery prepares a raw search query: strips SQL fragments,
// collapses whitespace, caps length. Injection still fails it.
func SanitizeSearchQuery(input string) (string, error) {
	if DetectInjection(input) {
		return "", ErrPromptInjection
	}
	s := sqlFragment.ReplaceAllString(input, " ")
	s = wsRun.ReplaceAllString(strings.TrimSpace(s), " ")
	if len(s) > maxQueryLen {
		s = s[:maxQueryLen]
	}
	return s, nil
}

// SanitizeFilename reduces an uploaded filename to a safe basename: path
// separators and null bytes dropped, leading dots stripped, only
// [a-zA-Z0-9._-] kept, capped at 255 chars.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimLeft(name, ".")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "unnamed"
	}
	if len(out) > maxFilename {
		out = out[:maxFilename]
	}
	return out
}
