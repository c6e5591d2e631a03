package alert

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ertriage/ertriage/internal/domain/encounter"
)

func TestDeriveAlerts_DeterministicIDs(t *testing.T) {
	cfg := DefaultRuleConfig()
	now := time.Now().UTC()
	enc := snapshot(now, encounter.StatusAdmitted, intp(2), 65*time.Minute, 0, 0, "abdominal pain")

	first := DeriveAlerts([]*encounter.Encounter{enc}, now, cfg)
	second := DeriveAlerts([]*encounter.Encounter{enc}, now, cfg)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("derived counts = %d, %d, want 1 each", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Error("repeated derivation must yield the same id")
	}
	want := "derived-" + enc.ID.String() + "-" + TypeCtas2LongWait
	if first[0].ID != want {
		t.Errorf("id = %s, want %s", first[0].ID, want)
	}
	if !first[0].Derived {
		t.Error("derived flag must be set")
	}
	if first[0].Severity != SeverityCritical || !strings.Contains(first[0].Message, "65 min") {
		t.Errorf("derived alert = %+v", first[0])
	}
}

func TestDeriveAlerts_SortedBySeverity(t *testing.T) {
	cfg := DefaultRuleConfig()
	now := time.Now().UTC()

	encs := []*encounter.Encounter{
		snapshot(now, encounter.StatusTriage, intp(3), 50*time.Minute, 40*time.Minute, 0, "sprained ankle"), // MEDIUM
		snapshot(now, encounter.StatusAdmitted, intp(1), time.Minute, 0, 0, "collapse"),                     // CRITICAL
		snapshot(now, encounter.StatusAdmitted, nil, time.Minute, 0, 0, "chest pain"),                       // HIGH
	}

	derived := DeriveAlerts(encs, now, cfg)
	if len(derived) != 3 {
		t.Fatalf("derived = %d, want 3", len(derived))
	}
	wantOrder := []Severity{SeverityCritical, SeverityHigh, SeverityMedium}
	for i, want := range wantOrder {
		if derived[i].Severity != want {
			t.Errorf("position %d: severity = %s, want %s", i, derived[i].Severity, want)
		}
	}
}

func TestSortBySeverity_AnyPermutation(t *testing.T) {
	severities := []Severity{SeverityLow, SeverityCritical, SeverityMedium, SeverityHigh, SeverityCritical, SeverityLow}
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 20; trial++ {
		alerts := make([]*Alert, len(severities))
		for i, s := range severities {
			alerts[i] = &Alert{ID: uuid.New(), Severity: s}
		}
		rng.Shuffle(len(alerts), func(i, j int) { alerts[i], alerts[j] = alerts[j], alerts[i] })

		SortBySeverity(alerts)
		for i := 1; i < len(alerts); i++ {
			if alerts[i-1].Severity.Rank() > alerts[i].Severity.Rank() {
				t.Fatalf("trial %d: out of order at %d: %s after %s",
					trial, i, alerts[i].Severity, alerts[i-1].Severity)
			}
		}
	}
}

func TestMergeForPresentation_ServerWins(t *testing.T) {
	encID := uuid.New()
	server := []*Alert{{
		ID:          uuid.New(),
		EncounterID: encID,
		Type:        TypeCtas2LongWait,
		Severity:    SeverityCritical,
		Message:     "CTAS-2 patient admitted 65 min ago without triage",
	}}
	derived := []DerivedAlert{{
		ID:          DerivedID(encID, TypeCtas2LongWait),
		EncounterID: encID,
		Type:        TypeCtas2LongWait,
		Severity:    SeverityCritical,
		Derived:     true,
	}}

	merged := MergeForPresentation(server, derived)
	if len(merged) != 1 {
		t.Fatalf("merged = %d, want 1 (server alert suppresses its derived twin)", len(merged))
	}
	if merged[0].Derived {
		t.Error("the surviving alert must be the authoritative server one")
	}
	if merged[0].ID != server[0].ID.String() {
		t.Error("server alert keeps its persisted id")
	}
}

func TestMergeForPresentation_ResolvedServerAlertDoesNotSuppress(t *testing.T) {
	encID := uuid.New()
	now := time.Now().UTC()
	server := []*Alert{{
		ID:          uuid.New(),
		EncounterID: encID,
		Type:        TypeLongWait,
		Severity:    SeverityHigh,
		ResolvedAt:  &now,
	}}
	derived := []DerivedAlert{{
		ID:          DerivedID(encID, TypeLongWait),
		EncounterID: encID,
		Type:        TypeLongWait,
		Severity:    SeverityHigh,
		Derived:     true,
	}}

	merged := MergeForPresentation(server, derived)
	if len(merged) != 2 {
		t.Fatalf("merged = %d, want 2 (resolved alerts do not suppress)", len(merged))
	}
}
