package model

import (
	"fmt"
	"time"
)

// AllocationMode selects the identifier format the allocator produces.
type AllocationMode string

const (
	// ModeRequest produces request-prefixed ids, e.g. T-R004.
	ModeRequest AllocationMode = "REQUEST"
	// ModeLegacy produces the older bare format, e.g. T-004.
	ModeLegacy AllocationMode = "LEGACY"
)

// ParseAllocationMode validates a raw allocation mode string.
func ParseAllocationMode(raw string) (AllocationMode, error) {
	switch AllocationMode(raw) {
	case ModeRequest, ModeLegacy:
		return AllocationMode(raw), nil
	}
	return "", fmt.Errorf("unrecognized allocation mode %q", raw)
}

// CandidateID formats the candidate identifier for a sequence number.
func (m AllocationMode) CandidateID(orgLetter string, seq int) string {
	if m == ModeRequest {
		return fmt.Sprintf("%s-R%03d", orgLetter, seq)
	}
	return fmt.Sprintf("%s-%03d", orgLetter, seq)
}

// IDCounter is the persisted per-prefix sequence the allocator advances.
// It is advisory: uniqueness comes from the create-only claim, the counter
// only keeps allocation near O(1) instead of scanning for gaps.
type IDCounter struct {
	OrgLetter    string         `json:"org_letter"`
	Mode         AllocationMode `json:"mode"`
	NextSequence int            `json:"next_sequence"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IDClaim is the placeholder record written when a candidate id is claimed.
type IDClaim struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// AllocatedID is the allocator's successful result: the claimed id plus the
// number of attempts it took, kept for observability.
type AllocatedID struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
}
