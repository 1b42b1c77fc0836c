package model

import "strings"

// Reason explains why records were grouped as duplicates.
type Reason string

const (
	// ReasonExactDuplicate means every member of the group has the same
	// content fingerprint.
	ReasonExactDuplicate Reason = "exact_duplicate"
	// ReasonPhoneCollision means the members share a phone number but differ
	// in other details.
	ReasonPhoneCollision Reason = "phone_collision"
	// ReasonNameAddressCollision means the members have no phone and share
	// name and address, but differ in other details.
	ReasonNameAddressCollision Reason = "name_address_collision"
)

// Action is the mutation applied to a record.
type Action string

const (
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
)

// Archived returns the archived flag a record has after the action applied.
func (a Action) Archived() bool {
	return a == ActionArchive
}

// DuplicateGroup is a set of at least two records sharing an identity key.
type DuplicateGroup struct {
	Key        string   `json:"key"`
	Reason     Reason   `json:"reason"`
	Canonical  Record   `json:"canonical"`
	Duplicates []Record `json:"duplicates"`
}

// Size returns the number of records in the group.
func (g DuplicateGroup) Size() int {
	return 1 + len(g.Duplicates)
}

// Members returns the canonical record followed by the duplicates.
func (g DuplicateGroup) Members() []Record {
	out := make([]Record, 0, g.Size())
	out = append(out, g.Canonical)
	return append(out, g.Duplicates...)
}

// IsPhoneKey reports whether the group was keyed by phone number.
func (g DuplicateGroup) IsPhoneKey() bool {
	return strings.HasPrefix(g.Key, KeyPrefixPhone)
}

// Decision is an archival instruction produced by duplicate detection.
type Decision struct {
	RecordID    string `json:"record_id" yaml:"record_id"`
	Action      Action `json:"action" yaml:"action"`
	Reason      Reason `json:"reason" yaml:"reason"`
	GroupKey    string `json:"group_key" yaml:"group_key"`
	CanonicalID string `json:"canonical_id" yaml:"canonical_id"`
}
