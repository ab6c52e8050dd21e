package quality

import (
	"errors"
	"testing"

	"tunepull/internal/core"
)

func descriptors() []core.QualityDescriptor {
	return []core.QualityDescriptor{
		{Label: "standard", Container: core.ContainerMP3, BitrateKbps: 128, Tier: core.TierStandard},
		{Label: "exhigh", Container: core.ContainerMP3, BitrateKbps: 320, Tier: core.TierHigh},
		{Label: "lossless", Container: core.ContainerFLAC, BitrateKbps: 1411, Tier: core.TierLossless, RequiresEntitlement: true},
		{Label: "hires", Container: core.ContainerFLAC, BitrateKbps: 2304, Tier: core.TierHiRes, RequiresEntitlement: true},
	}
}

func TestNegotiator_Select(t *testing.T) {
	n := New()

	tests := []struct {
		name     string
		ceiling  core.Tier
		entitled bool
		expected string
	}{
		{"entitled picks ceiling tier", core.TierLossless, true, "lossless"},
		{"entitled below ceiling", core.TierHigh, true, "exhigh"},
		{"unentitled skips gated tiers", core.TierLossless, false, "exhigh"},
		{"ceiling standard", core.TierStandard, true, "standard"},
		{"hires ceiling entitled", core.TierHiRes, true, "hires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Select(descriptors(), tt.ceiling, tt.entitled)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got.Label != tt.expected {
				t.Errorf("Select() = %q, expected %q", got.Label, tt.expected)
			}
		})
	}
}

func TestNegotiator_SelectDegradesAboveCeiling(t *testing.T) {
	n := New()
	// Only gated descriptors above the ceiling exist; the negotiator must
	// degrade to the best eligible instead of failing.
	available := []core.QualityDescriptor{
		{Label: "lossless", Tier: core.TierLossless},
		{Label: "hires", Tier: core.TierHiRes},
	}
	got, err := n.Select(available, core.TierStandard, false)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got.Label != "lossless" {
		t.Errorf("Select() = %q, expected closest descriptor above ceiling", got.Label)
	}
}

func TestNegotiator_SelectNoEligible(t *testing.T) {
	n := New()
	available := []core.QualityDescriptor{
		{Label: "lossless", Tier: core.TierLossless, RequiresEntitlement: true},
	}
	_, err := n.Select(available, core.TierLossless, false)
	var qe *core.NoEligibleQualityError
	if !errors.As(err, &qe) {
		t.Errorf("Select() error = %v, expected NoEligibleQualityError", err)
	}
}

func TestNegotiator_SelectBelow(t *testing.T) {
	n := New()

	failed := core.QualityDescriptor{Label: "lossless", Tier: core.TierLossless, BitrateKbps: 1411}
	got, err := n.SelectBelow(descriptors(), failed, true)
	if err != nil {
		t.Fatalf("SelectBelow() error = %v", err)
	}
	if got.Label != "exhigh" {
		t.Errorf("SelectBelow() = %q, expected exhigh", got.Label)
	}
}

func TestNegotiator_SelectBelowExhausted(t *testing.T) {
	n := New()

	failed := core.QualityDescriptor{Label: "standard", Tier: core.TierStandard, BitrateKbps: 128}
	_, err := n.SelectBelow(descriptors(), failed, true)
	var qe *core.NoEligibleQualityError
	if !errors.As(err, &qe) {
		t.Errorf("SelectBelow() error = %v, expected NoEligibleQualityError", err)
	}
}
