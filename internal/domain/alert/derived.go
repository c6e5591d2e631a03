package alert

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ertriage/ertriage/internal/domain/encounter"
)

// DerivedAlert is an ephemeral alert computed client-side from an encounter
// snapshot. It is never persisted; its deterministic ID makes repeated
// computations stable and de-duplicable against locally dismissed ids.
type DerivedAlert struct {
	ID          string                 `json:"id"`
	EncounterID uuid.UUID              `json:"encounter_id"`
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Derived     bool                   `json:"derived"`
}

// DerivedID builds the deterministic id for an encounter/rule pair.
func DerivedID(encounterID uuid.UUID, ruleType string) string {
	return fmt.Sprintf("derived-%s-%s", encounterID, ruleType)
}

// DeriveAlerts evaluates the shared rule table against each encounter
// snapshot independently and returns at most one alert per encounter, sorted
// CRITICAL to LOW. It is a pure function of its inputs.
func DeriveAlerts(encs []*encounter.Encounter, now time.Time, cfg RuleConfig) []DerivedAlert {
	var out []DerivedAlert
	for _, enc := range encs {
		f := EvaluateEncounter(enc, now, cfg)
		if f == nil {
			continue
		}
		out = append(out, DerivedAlert{
			ID:          DerivedID(enc.ID, f.Type),
			EncounterID: enc.ID,
			Type:        f.Type,
			Severity:    f.Severity,
			Message:     f.Message,
			Metadata:    f.Metadata,
			Derived:     true,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

// MergeForPresentation combines server alerts with derived ones. Server
// alerts are authoritative: a derived alert is dropped when an open server
// alert of the same encounter and type exists. The result is sorted CRITICAL
// to LOW.
func MergeForPresentation(server []*Alert, derived []DerivedAlert) []DerivedAlert {
	open := make(map[string]bool, len(server))
	for _, a := range server {
		if !a.Resolved() {
			open[a.EncounterID.String()+"/"+a.Type] = true
		}
	}

	merged := make([]DerivedAlert, 0, len(server)+len(derived))
	for _, a := range server {
		merged = append(merged, DerivedAlert{
			ID:          a.ID.String(),
			EncounterID: a.EncounterID,
			Type:        a.Type,
			Severity:    a.Severity,
			Message:     a.Message,
			Metadata:    a.Metadata,
		})
	}
	for _, d := range derived {
		if open[d.EncounterID.String()+"/"+d.Type] {
			continue
		}
		merged = append(merged, d)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Severity.Rank() < merged[j].Severity.Rank()
	})
	return merged
}
