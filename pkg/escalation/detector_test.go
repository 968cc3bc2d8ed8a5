package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
)

func TestDetect_NoReasonsWhenNothingFires(t *testing.T) {
	result := Detect(DefaultRules(), Input{UserMessage: "quel est mon solde"})
	assert.False(t, result.ShouldEscalate)
	assert.Equal(t, "no_escalation_needed", result.ReasonString())
}

func TestDetect_MultipleFailures(t *testing.T) {
	result := Detect(DefaultRules(), Input{FailedAttempts: 3})
	assert.True(t, result.ShouldEscalate)
	assert.Contains(t, result.ReasonString(), "multiple_failures(3)")
}

func TestDetect_UrgentKeywords(t *testing.T) {
	result := Detect(DefaultRules(), Input{UserMessage: "c'est urgent, je suis bloqué"})
	assert.True(t, result.ShouldEscalate)
	assert.Contains(t, result.ReasonString(), "urgent_keywords")
}

func TestDetect_ExplicitHumanRequest(t *testing.T) {
	result := Detect(DefaultRules(), Input{UserMessage: "je veux parler à un conseiller"})
	assert.True(t, result.ShouldEscalate)
	assert.Contains(t, result.ReasonString(), "explicit_human_request")
}

func TestDetect_AccumulatesMultipleReasons(t *testing.T) {
	result := Detect(DefaultRules(), Input{
		FailedAttempts: 4,
		UserMessage:    "urgent, ne fonctionne pas",
		TechnicalError: true,
	})
	assert.True(t, result.ShouldEscalate)
	assert.GreaterOrEqual(t, len(result.Reasons), 2)
}

func TestAssessPriority_UrgentTakesPrecedence(t *testing.T) {
	p := AssessPriority([]string{"multiple_failures(3)", "urgent_complaint"})
	assert.Equal(t, conversation.PriorityUrgent, p)
}

func TestAssessPriority_HighWhenNoUrgentSignal(t *testing.T) {
	p := AssessPriority([]string{"multiple_failures(3)"})
	assert.Equal(t, conversation.PriorityHigh, p)
}

func TestAssessPriority_MediumForExplicitRequestOnly(t *testing.T) {
	p := AssessPriority([]string{"explicit_human_request"})
	assert.Equal(t, conversation.PriorityMedium, p)
}

func TestAssessPriority_LowWhenNoReasons(t *testing.T) {
	p := AssessPriority(nil)
	assert.Equal(t, conversation.PriorityLow, p)
}
