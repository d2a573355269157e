// Package safety implements the prompt-injection and secret-leak rule
// scanner: a pure function over an ordered rule set, with no knowledge
// of where the scanned text came from or what the caller does with a
// block decision.
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tau-run/tau/pkg/models"
)

// compiledRule pairs a SafetyRule with its compiled pattern, grounded
// on the teacher's internal/artifacts/redaction.go RedactionPolicy
// (named regex rules compiled once at construction, matched many
// times).
type compiledRule struct {
	rule models.SafetyRule
	re   *regexp.Regexp
}

// RuleSet is a compiled models.SafetyRuleSet, ready for repeated
// ScanSafetyRules calls without recompiling patterns per scan.
type RuleSet struct {
	promptInjection []compiledRule
	secretLeak      []compiledRule
}

// Compile compiles every rule in rs, failing on the first invalid
// pattern with the offending rule_id named in the error.
func Compile(rs models.SafetyRuleSet) (*RuleSet, error) {
	promptInjection, err := compileRules(rs.PromptInjectionRules)
	if err != nil {
		return nil, err
	}
	secretLeak, err := compileRules(rs.SecretLeakRules)
	if err != nil {
		return nil, err
	}
	return &RuleSet{promptInjection: promptInjection, secretLeak: secretLeak}, nil
}

func compileRules(rules []models.SafetyRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety: invalid pattern for rule %q: %w", r.RuleID, err)
		}
		out = append(out, compiledRule{rule: r, re: re})
	}
	return out, nil
}

// ScanPromptInjection scans input against rs's prompt-injection rules.
func (rs *RuleSet) ScanPromptInjection(input, redactionToken string) models.SafetyScanResult {
	return scan(input, redactionToken, rs.promptInjection)
}

// ScanSecretLeak scans input against rs's secret-leak rules.
func (rs *RuleSet) ScanSecretLeak(input, redactionToken string) models.SafetyScanResult {
	return scan(input, redactionToken, rs.secretLeak)
}

// scan implements scan_safety_rules: every rule is matched against the
// full input independently (so overlapping matches from different
// rules are all reported), matches are deduped and ordered by
// (start, end, rule_id), and redactedText replaces every match span
// with redactionToken, processed back-to-front so earlier replacements
// never shift later match offsets.
func scan(input, redactionToken string, rules []compiledRule) models.SafetyScanResult {
	seen := make(map[[3]any]bool)
	var matches []models.SafetyMatch

	for _, cr := range rules {
		for _, loc := range cr.re.FindAllStringIndex(input, -1) {
			key := [3]any{loc[0], loc[1], cr.rule.RuleID}
			if seen[key] {
				continue
			}
			seen[key] = true
			matches = append(matches, models.SafetyMatch{
				RuleID:     cr.rule.RuleID,
				ReasonCode: cr.rule.ReasonCode,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		if matches[i].End != matches[j].End {
			return matches[i].End < matches[j].End
		}
		return matches[i].RuleID < matches[j].RuleID
	})

	redacted := redactSpans(input, matches, redactionToken)
	return models.SafetyScanResult{Matches: matches, RedactedText: redacted}
}

// redactSpans replaces every matched span with token, repeated or
// truncated rune-for-rune to the span's own scalar length. Overlapping
// spans collapse to a single replacement by skipping any span whose
// start falls before the end of the previously-applied (by start
// order) replacement. Sizing the replacement to the span rather than
// splicing in token verbatim keeps redacted_text the same length in
// Unicode scalar values as input, regardless of how token's length
// compares to what it's covering.
func redactSpans(input string, matches []models.SafetyMatch, token string) string {
	if len(matches) == 0 {
		return input
	}
	tokenRunes := []rune(token)
	if len(tokenRunes) == 0 {
		tokenRunes = []rune{'*'}
	}

	var b strings.Builder
	cursor := 0
	for _, m := range matches {
		if m.Start < cursor {
			continue
		}
		b.WriteString(input[cursor:m.Start])
		b.WriteString(maskSpan(tokenRunes, utf8.RuneCountInString(input[m.Start:m.End])))
		cursor = m.End
	}
	b.WriteString(input[cursor:])
	return b.String()
}

// maskSpan builds an n-rune string by cycling through tokenRunes,
// wrapping around as needed so the result is exactly n scalars long
// regardless of how tokenRunes' length compares to n.
func maskSpan(tokenRunes []rune, n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]rune, n)
	for i := range out {
		out[i] = tokenRunes[i%len(tokenRunes)]
	}
	return string(out)
}
