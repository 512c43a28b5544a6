package generator

import (
	"fmt"
	"strings"
	"unicode"

	"outreach/internal/domain"
)

const maxSentences = 2

// BuildPrompt renders the instruction sent to the model for one recipient.
func BuildPrompt(handle string, p domain.ProfileSummary, campaignContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly, natural-sounding social media assistant. Write one short, unique direct message (at most 2 sentences, ideally 1) for @%s.\n", handle)
	b.WriteString("What we know about the recipient (may be limited):\n")
	fmt.Fprintf(&b, "- Full name: %s\n", orNA(p.FullName))
	fmt.Fprintf(&b, "- Bio: %s\n", orNA(p.Biography))
	if p.FollowerCount > 0 {
		fmt.Fprintf(&b, "- Followers: %d\n", p.FollowerCount)
	} else {
		b.WriteString("- Followers: N/A\n")
	}
	fmt.Fprintf(&b, "\nGoal of the message: %s\n\n", campaignContext)
	b.WriteString(`Rules:
1. Sound like a real person, not a bot or an ad.
2. One sentence is ideal, two at most.
3. No generic greetings such as "Hi <name>" or "Hope you're well". Get to the point in a friendly way.
4. Reference something specific from the name or bio only if it is genuinely interesting; never force it.
5. The goal above must be clear from the message.
6. An optional soft call to action is fine; never be pushy.
7. Vary wording between messages.

Reply with the message text only.`)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not available"
	}
	return s
}

// Clean normalizes raw model output: trims surrounding quotes, folds escaped
// and real line breaks into spaces, collapses whitespace and keeps at most two
// sentences.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.ReplaceAll(s, `\n`, " ")
	s = strings.Join(strings.Fields(s), " ")
	return firstSentences(s, maxSentences)
}

// firstSentences cuts s after the n-th sentence terminator that is followed by
// whitespace.
func firstSentences(s string, n int) string {
	count := 0
	runes := []rune(s)
	for i, r := range runes {
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			count++
			if count == n {
				return string(runes[:i+1])
			}
		}
	}
	return s
}

// Finalize cleans raw output and substitutes domain.FallbackMessage when what
// remains is shorter than minLen runes.
func Finalize(raw string, minLen int) string {
	s := Clean(raw)
	if len([]rune(s)) < minLen {
		return domain.FallbackMessage
	}
	return s
}
