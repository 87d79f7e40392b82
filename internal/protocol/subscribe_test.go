package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAllCoversEveryFacility(t *testing.T) {
	for _, f := range []Facility{
		FacilitySink, FacilitySource, FacilitySinkInput, FacilitySourceOutput,
		FacilityClient, FacilityModule, FacilitySample, FacilityServer,
	} {
		assert.NotZero(t, MaskAll&f.Bit(), "MaskAll must include facility %v", f)
	}
}

func TestMaskNoneMatchesNothing(t *testing.T) {
	for _, f := range []Facility{FacilitySink, FacilitySinkInput, FacilitySample} {
		assert.Zero(t, MaskNone&f.Bit())
	}
}

func TestFacilityBitsAreDistinct(t *testing.T) {
	seen := Mask(0)
	for _, f := range []Facility{
		FacilitySink, FacilitySource, FacilitySinkInput, FacilitySourceOutput,
		FacilityClient, FacilityModule, FacilitySample, FacilityServer,
	} {
		assert.Zero(t, seen&f.Bit(), "facility %v bit overlaps a previous facility", f)
		seen |= f.Bit()
	}
}

func TestSubscribeMaskFiltersSingleFacility(t *testing.T) {
	mask := FacilitySink.Bit() | FacilityClient.Bit()
	assert.NotZero(t, mask&FacilitySink.Bit())
	assert.Zero(t, mask&FacilitySample.Bit())
}
