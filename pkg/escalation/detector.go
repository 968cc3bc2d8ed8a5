// Package escalation decides when a conversation needs a human and
// assembles the handoff packet a human agent sees.
package escalation

import (
	"fmt"
	"strings"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
)

// Rules tunes the detector's thresholds and keyword lists.
type Rules struct {
	FailedAttemptsThreshold int
	UrgentKeywords          []string
	ComplexQueryIndicators  []string
	ExplicitHumanRequests   []string
}

// DefaultRules mirrors the thresholds used in production.
func DefaultRules() Rules {
	return Rules{
		FailedAttemptsThreshold: 3,
		UrgentKeywords:          []string{"urgent", "immédiat", "emergency", "bloqué", "problème grave"},
		ComplexQueryIndicators:  []string{"plusieurs", "complexe", "ne comprends pas", "confusion"},
		ExplicitHumanRequests:   []string{"agent humain", "conseiller", "responsable", "manager", "supervisor"},
	}
}

// Input is the subset of conversation state the detector inspects.
type Input struct {
	FailedAttempts    int
	UserMessage       string
	Sentiment         string // "neutral" | "negative" | "urgent"
	ComplaintPriority string // e.g. "URGENT"
	TechnicalError    bool
}

// Result is the detector's verdict.
type Result struct {
	ShouldEscalate bool
	Reasons        []string
}

// ReasonString joins Reasons the way the handoff record stores them.
func (r Result) ReasonString() string {
	if len(r.Reasons) == 0 {
		return "no_escalation_needed"
	}
	return strings.Join(r.Reasons, " | ")
}

// Detect evaluates every rule and accumulates every reason that fires —
// escalation triggers are additive, not first-match-wins.
func Detect(rules Rules, in Input) Result {
	var reasons []string

	if in.FailedAttempts >= rules.FailedAttemptsThreshold {
		reasons = append(reasons, fmt.Sprintf("multiple_failures(%d)", in.FailedAttempts))
	}

	message := strings.ToLower(in.UserMessage)

	var urgentFound []string
	for _, kw := range rules.UrgentKeywords {
		if strings.Contains(message, kw) {
			urgentFound = append(urgentFound, kw)
		}
	}
	if len(urgentFound) > 0 {
		reasons = append(reasons, fmt.Sprintf("urgent_keywords(%s)", strings.Join(urgentFound, ",")))
	}

	if in.Sentiment == "negative" || in.Sentiment == "urgent" {
		reasons = append(reasons, "negative_sentiment")
	}

	var complexFound []string
	for _, ind := range rules.ComplexQueryIndicators {
		if strings.Contains(message, ind) {
			complexFound = append(complexFound, ind)
		}
	}
	if len(complexFound) > 0 {
		reasons = append(reasons, fmt.Sprintf("complex_query(%s)", strings.Join(complexFound, ",")))
	}

	if in.ComplaintPriority == "URGENT" {
		reasons = append(reasons, "urgent_complaint")
	}

	for _, req := range rules.ExplicitHumanRequests {
		if strings.Contains(message, req) {
			reasons = append(reasons, "explicit_human_request")
			break
		}
	}

	if in.TechnicalError {
		reasons = append(reasons, "technical_error")
	}

	return Result{ShouldEscalate: len(reasons) > 0, Reasons: reasons}
}

// AssessPriority ranks a handoff from a set of fired reasons. Precedence is
// urgent > high > medium > low; the first matching bucket wins.
func AssessPriority(reasons []string) conversation.EscalationPriority {
	joined := strings.Join(reasons, " | ")

	for _, term := range []string{"urgent_complaint", "urgent_keywords", "technical_error"} {
		if strings.Contains(joined, term) {
			return conversation.PriorityUrgent
		}
	}
	for _, term := range []string{"multiple_failures", "negative_sentiment"} {
		if strings.Contains(joined, term) {
			return conversation.PriorityHigh
		}
	}
	if strings.Contains(joined, "explicit_human_request") {
		return conversation.PriorityMedium
	}
	return conversation.PriorityLow
}
