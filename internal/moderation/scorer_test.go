package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func highQualitySnapshot() ListingSnapshot {
	return ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Sunny two bedroom apartment near the river",
		Description: "Bright and quiet flat close to the metro with a renovated kitchen, a balcony facing the park and a dedicated parking spot in the basement garage.",
		Price:       250000,
		City:        "Lisbon",
		Locality:    "Alvalade",
		Attributes: map[string]interface{}{
			"rooms": 2, "area_sqm": 78, "floor": 3,
		},
		ImageCount:   6,
		HasPrimary:   true,
		HasGeo:       true,
		ContactPhone: "+351 21 000 0000",
	}
}

func TestScore_Deterministic(t *testing.T) {
	snapshot := highQualitySnapshot()
	first := Score(snapshot)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(snapshot))
	}
}

func TestScore_ClampedToHundred(t *testing.T) {
	// Every signal positive sums past 100 and must clamp.
	assert.Equal(t, 100, Score(highQualitySnapshot()))
}

func TestScore_ClampedToZero(t *testing.T) {
	assert.Equal(t, 0, Score(ListingSnapshot{PropertyID: "prop-1"}))
}

func TestScore_NinetyFive(t *testing.T) {
	// Everything good except images: 50 +10 +10 +10 +10 +10 -10 -5 +5 +5 = 95.
	snapshot := highQualitySnapshot()
	snapshot.ImageCount = 0
	snapshot.HasPrimary = false
	assert.Equal(t, 95, Score(snapshot))
}

func TestScore_Fifteen(t *testing.T) {
	// 50 -10 -10 +10 -10 -5 -10 -5 +5 = 15.
	snapshot := ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Flat",
		Description: "Nice flat.",
		Price:       120000,
		HasGeo:      true,
	}
	assert.Equal(t, 15, Score(snapshot))
}

func TestScore_FiftyFive(t *testing.T) {
	// 50 +10 -10 +10 -10 +10 -10 -5 +5 +5 = 55.
	snapshot := ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Sunny two bedroom apartment",
		Description: "Great flat, call me.",
		Price:       250000,
		City:        "Lisbon",
		Attributes: map[string]interface{}{
			"rooms": 2, "area_sqm": 78, "floor": 3,
		},
		HasGeo:       true,
		ContactPhone: "+351 21 000 0000",
	}
	assert.Equal(t, 55, Score(snapshot))
}

func TestScore_ImageTiers(t *testing.T) {
	// Base stays clear of the clamp so the tier deltas are observable.
	base := ListingSnapshot{
		PropertyID: "prop-1",
		Price:      100000,
		City:       "Porto",
		Locality:   "Bonfim",
	}

	none := Score(base)

	base.ImageCount = 1
	one := Score(base)
	base.ImageCount = 3
	three := Score(base)
	base.ImageCount = 5
	five := Score(base)

	assert.Equal(t, 15, one-none)   // -10 becomes +5
	assert.Equal(t, 5, three-one)   // +5 becomes +10
	assert.Equal(t, 10, five-three) // +10 becomes +20
}

func TestScore_TitleBoundaries(t *testing.T) {
	base := ListingSnapshot{
		PropertyID: "prop-1",
		Title:      "exactly ten c",
		Price:      100000,
		City:       "Porto",
		Locality:   "Bonfim",
		Attributes: map[string]interface{}{
			"rooms": 2, "area_sqm": 78, "floor": 3,
		},
	}

	neutral := Score(base) // length 13: no bonus, no penalty

	base.Title = "short"
	short := Score(base)
	assert.Equal(t, -10, short-neutral)

	base.Title = "a title of twenty characters or so"
	good := Score(base)
	assert.Equal(t, 10, good-neutral)
}

func TestPriorityForScore(t *testing.T) {
	assert.Equal(t, PriorityUrgent, PriorityForScore(0))
	assert.Equal(t, PriorityUrgent, PriorityForScore(19))
	assert.Equal(t, PriorityHigh, PriorityForScore(20))
	assert.Equal(t, PriorityHigh, PriorityForScore(39))
	assert.Equal(t, PriorityMedium, PriorityForScore(40))
	assert.Equal(t, PriorityMedium, PriorityForScore(55))
	assert.Equal(t, PriorityMedium, PriorityForScore(59))
	assert.Equal(t, PriorityLow, PriorityForScore(60))
	assert.Equal(t, PriorityLow, PriorityForScore(79))
}
