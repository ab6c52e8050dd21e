// Package quality implements quality-descriptor negotiation with graceful
// degradation.
package quality

import (
	"sort"

	"tunepull/internal/core"
)

// Negotiator picks the quality descriptor to download for a track.
type Negotiator struct{}

func New() *Negotiator {
	return &Negotiator{}
}

// Select filters the available descriptors by entitlement, then picks the
// highest-ranked one at or below the preference ceiling. When nothing
// eligible sits at or below the ceiling it degrades to the best remaining
// eligible descriptor instead of failing; only an empty eligible set is an
// error.
func (n *Negotiator) Select(available []core.QualityDescriptor, ceiling core.Tier, entitled bool) (core.QualityDescriptor, error) {
	eligible := filterEligible(available, entitled)
	if len(eligible) == 0 {
		return core.QualityDescriptor{}, &core.NoEligibleQualityError{}
	}

	sortByRank(eligible)

	// Highest eligible at or below the ceiling.
	for _, q := range eligible {
		if q.Tier <= ceiling {
			return q, nil
		}
	}

	// Ceiling unattainable: degrade to the closest eligible above it
	// rather than failing the track.
	return eligible[len(eligible)-1], nil
}

// SelectBelow picks the best eligible descriptor strictly below the tier of
// a descriptor that could not actually be served.
func (n *Negotiator) SelectBelow(available []core.QualityDescriptor, failed core.QualityDescriptor, entitled bool) (core.QualityDescriptor, error) {
	eligible := filterEligible(available, entitled)
	sortByRank(eligible)

	for _, q := range eligible {
		if q.Tier < failed.Tier || (q.Tier == failed.Tier && q.BitrateKbps < failed.BitrateKbps) {
			return q, nil
		}
	}
	return core.QualityDescriptor{}, &core.NoEligibleQualityError{}
}

func filterEligible(available []core.QualityDescriptor, entitled bool) []core.QualityDescriptor {
	out := make([]core.QualityDescriptor, 0, len(available))
	for _, q := range available {
		if q.RequiresEntitlement && !entitled {
			continue
		}
		out = append(out, q)
	}
	return out
}

// sortByRank orders descriptors best first: tier, then bitrate.
func sortByRank(qs []core.QualityDescriptor) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Tier != qs[j].Tier {
			return qs[i].Tier > qs[j].Tier
		}
		return qs[i].BitrateKbps > qs[j].BitrateKbps
	})
}
