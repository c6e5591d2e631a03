package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/ertriage/ertriage/internal/domain/encounter"
)

// RuleConfig holds the tunable thresholds shared by the server evaluator and
// the client-side derivation. Both halves must see identical values or their
// outputs diverge.
type RuleConfig struct {
	ReassessOverdue    time.Duration
	Ctas2HighAfter     time.Duration
	Ctas2CriticalAfter time.Duration
	WaitHighAfter      time.Duration
	WaitCriticalAfter  time.Duration
	ComplaintKeywords  []string
}

// DefaultRuleConfig returns the production thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		ReassessOverdue:    30 * time.Minute,
		Ctas2HighAfter:     30 * time.Minute,
		Ctas2CriticalAfter: 60 * time.Minute,
		WaitHighAfter:      2 * time.Hour,
		WaitCriticalAfter:  4 * time.Hour,
		ComplaintKeywords: []string{
			"chest pain", "stroke", "overdose", "unresponsive",
			"difficulty breathing", "severe bleeding",
		},
	}
}

// Firing is the outcome of a matched rule.
type Firing struct {
	Type     string
	Severity Severity
	Message  string
	Metadata map[string]interface{}
}

// Rule is one predicate over an encounter snapshot. Check returns nil when
// the rule does not apply.
type Rule struct {
	Type  string
	Check func(enc *encounter.Encounter, now time.Time, cfg RuleConfig) *Firing
}

// Rules is the shared table, in priority order. For overlapping conditions
// only the first matching rule fires per encounter, so a CTAS-1 match
// suppresses the generic wait rules.
var Rules = []Rule{
	{Type: TypeCtas1NotInTriage, Check: checkCtas1NotInTriage},
	{Type: TypeCtas2LongWait, Check: checkCtas2LongWait},
	{Type: TypeComplaintKeyword, Check: checkComplaintKeyword},
	{Type: TypeReassessmentOverdue, Check: checkReassessmentOverdue},
	{Type: TypeLongWait, Check: checkLongWait},
}

// EvaluateEncounter runs the rule table against one encounter snapshot and
// returns the first firing, or nil.
func EvaluateEncounter(enc *encounter.Encounter, now time.Time, cfg RuleConfig) *Firing {
	if !enc.Status.Active() {
		return nil
	}
	for _, rule := range Rules {
		if f := rule.Check(enc, now, cfg); f != nil {
			f.Type = rule.Type
			return f
		}
	}
	return nil
}

func checkCtas1NotInTriage(enc *encounter.Encounter, _ time.Time, _ RuleConfig) *Firing {
	if enc.CurrentCtasLevel == nil || *enc.CurrentCtasLevel != 1 {
		return nil
	}
	if enc.Status != encounter.StatusAdmitted {
		return nil
	}
	return &Firing{
		Severity: SeverityCritical,
		Message:  "CTAS-1 patient has not entered triage",
		Metadata: map[string]interface{}{"ctasLevel": 1},
	}
}

func checkCtas2LongWait(enc *encounter.Encounter, now time.Time, cfg RuleConfig) *Firing {
	if enc.CurrentCtasLevel == nil || *enc.CurrentCtasLevel != 2 {
		return nil
	}
	if enc.Status != encounter.StatusAdmitted || enc.ArrivedAt == nil {
		return nil
	}
	elapsed := now.Sub(*enc.ArrivedAt)
	if elapsed < cfg.Ctas2HighAfter {
		return nil
	}
	severity := SeverityHigh
	if elapsed >= cfg.Ctas2CriticalAfter {
		severity = SeverityCritical
	}
	minutes := int(elapsed.Minutes())
	return &Firing{
		Severity: severity,
		Message:  fmt.Sprintf("CTAS-2 patient admitted %d min ago without triage", minutes),
		Metadata: map[string]interface{}{"ctasLevel": 2, "elapsedMinutes": minutes},
	}
}

func checkComplaintKeyword(enc *encounter.Encounter, _ time.Time, cfg RuleConfig) *Firing {
	complaint := strings.ToLower(enc.ChiefComplaint)
	for _, kw := range cfg.ComplaintKeywords {
		if strings.Contains(complaint, kw) {
			return &Firing{
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("chief complaint mentions %q", kw),
				Metadata: map[string]interface{}{"keyword": kw},
			}
		}
	}
	return nil
}

func checkReassessmentOverdue(enc *encounter.Encounter, now time.Time, cfg RuleConfig) *Firing {
	if enc.TriagedAt == nil {
		return nil
	}
	elapsed := now.Sub(*enc.TriagedAt)
	if elapsed < cfg.ReassessOverdue {
		return nil
	}
	minutes := int(elapsed.Minutes())
	return &Firing{
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("triage reassessment overdue, last assessed %d min ago", minutes),
		Metadata: map[string]interface{}{"elapsedMinutes": minutes},
	}
}

func checkLongWait(enc *encounter.Encounter, now time.Time, cfg RuleConfig) *Firing {
	if enc.Status != encounter.StatusWaiting || enc.WaitingAt == nil {
		return nil
	}
	elapsed := now.Sub(*enc.WaitingAt)
	if elapsed < cfg.WaitHighAfter {
		return nil
	}
	severity := SeverityHigh
	if elapsed >= cfg.WaitCriticalAfter {
		severity = SeverityCritical
	}
	minutes := int(elapsed.Minutes())
	return &Firing{
		Severity: severity,
		Message:  fmt.Sprintf("patient waiting %d min", minutes),
		Metadata: map[string]interface{}{"elapsedMinutes": minutes},
	}
}
