package dedup

import (
	"slices"
	"strings"

	"github.com/sells-group/crm-dedup/internal/model"
)

// Detect partitions records by identity key and returns every group with at
// least two members. Records without an identity key are never grouped.
//
// Within a group the canonical record is the most recently edited one, ties
// broken by ascending ID; duplicates follow the same order. Groups are
// sorted by key, so the output depends only on the set of records and not on
// their input order.
func Detect(records []model.Record) []model.DuplicateGroup {
	buckets := make(map[string][]model.Record)
	for _, r := range uniqueByID(records) {
		key := r.IdentityKey()
		if key == "" {
			continue
		}
		buckets[key] = append(buckets[key], r)
	}

	groups := make([]model.DuplicateGroup, 0)
	for key, members := range buckets {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, model.CompareCanonical)
		groups = append(groups, model.DuplicateGroup{
			Key:        key,
			Reason:     groupReason(key, members),
			Canonical:  members[0],
			Duplicates: members[1:],
		})
	}
	slices.SortFunc(groups, func(a, b model.DuplicateGroup) int {
		return strings.Compare(a.Key, b.Key)
	})
	return groups
}

// Decide turns groups into archival decisions: one archive decision per
// duplicate, preceded by an unarchive decision when the canonical record is
// itself archived. The order follows the group order.
func Decide(groups []model.DuplicateGroup) []model.Decision {
	decisions := make([]model.Decision, 0)
	for _, g := range groups {
		if g.Canonical.Archived {
			decisions = append(decisions, model.Decision{
				RecordID:    g.Canonical.ID,
				Action:      model.ActionUnarchive,
				Reason:      g.Reason,
				GroupKey:    g.Key,
				CanonicalID: g.Canonical.ID,
			})
		}
		for _, d := range g.Duplicates {
			decisions = append(decisions, model.Decision{
				RecordID:    d.ID,
				Action:      model.ActionArchive,
				Reason:      g.Reason,
				GroupKey:    g.Key,
				CanonicalID: g.Canonical.ID,
			})
		}
	}
	return decisions
}

func groupReason(key string, members []model.Record) model.Reason {
	fp := members[0].Fingerprint()
	for _, m := range members[1:] {
		if m.Fingerprint() != fp {
			if strings.HasPrefix(key, model.KeyPrefixPhone) {
				return model.ReasonPhoneCollision
			}
			return model.ReasonNameAddressCollision
		}
	}
	return model.ReasonExactDuplicate
}

// uniqueByID drops repeated IDs, keeping the last copy at the position of
// the first.
func uniqueByID(records []model.Record) []model.Record {
	seen := make(map[string]int, len(records))
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.ID]; ok {
			out[i] = r
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
