package domain

import (
	"fmt"
	"strings"
	"time"
)

// MalformedRecordError marks a source record that cannot participate in the
// merge. The merger drops and counts these; they never abort a run.
type MalformedRecordError struct {
	Origin string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record from %s: %s", e.Origin, e.Reason)
}

// ValidateSourceRecord checks the invariants a record must satisfy before
// merge: a non-empty trimmed identity and no more than three option axes.
func ValidateSourceRecord(r *SourceRecord) error {
	if strings.TrimSpace(r.Identity) == "" {
		return &MalformedRecordError{Origin: r.Origin, Reason: "missing identity"}
	}
	if len(r.OptionValues) > 3 {
		return &MalformedRecordError{Origin: r.Origin, Reason: "more than three option axes"}
	}
	if r.ReleaseDate != "" {
		if _, err := time.Parse("2006-01-02", r.ReleaseDate); err != nil {
			return &MalformedRecordError{Origin: r.Origin, Reason: "invalid release date " + r.ReleaseDate}
		}
	}
	return nil
}

// ValidLedgerState reports whether s is one of the known ledger states.
func ValidLedgerState(s LedgerState) bool {
	switch s {
	case LedgerDraftCreated, LedgerSynced, LedgerIgnored:
		return true
	}
	return false
}
