package moderation

// Scoring weights. The score starts at scoreBase and each signal adds or
// subtracts its fixed weight; the result is clamped to [0,100].
const (
	scoreBase = 50

	titleGoodBonus      = 10 // length in [20,200]
	titleShortPenalty   = 10 // length < 10
	descGoodBonus       = 10 // length >= 100
	descShortPenalty    = 10 // length < 50
	priceBonus          = 10
	pricePenalty        = 10
	locationBonus       = 10 // city and locality both present
	locationPenalty     = 10
	attributesBonus     = 10 // at least minAttributes keys
	attributesPenalty   = 5
	imagesManyBonus     = 20 // >= 5 images
	imagesSomeBonus     = 10 // >= 3
	imagesFewBonus      = 5  // >= 1
	imagesNonePenalty   = 10
	primaryImageBonus   = 5
	primaryImagePenalty = 5
	geoBonus            = 5
	contactBonus        = 5

	minAttributes = 3
)

// Score computes the 0-100 quality score for a submission. Pure: the same
// snapshot always yields the same value.
func Score(snapshot ListingSnapshot) int {
	score := scoreBase

	titleLen := len([]rune(snapshot.Title))
	switch {
	case titleLen >= 20 && titleLen <= 200:
		score += titleGoodBonus
	case titleLen < 10:
		score -= titleShortPenalty
	}

	descLen := len([]rune(snapshot.Description))
	switch {
	case descLen >= 100:
		score += descGoodBonus
	case descLen < 50:
		score -= descShortPenalty
	}

	if snapshot.Price > 0 {
		score += priceBonus
	} else {
		score -= pricePenalty
	}

	if snapshot.City != "" && snapshot.Locality != "" {
		score += locationBonus
	} else {
		score -= locationPenalty
	}

	if len(snapshot.Attributes) >= minAttributes {
		score += attributesBonus
	} else {
		score -= attributesPenalty
	}

	switch {
	case snapshot.ImageCount >= 5:
		score += imagesManyBonus
	case snapshot.ImageCount >= 3:
		score += imagesSomeBonus
	case snapshot.ImageCount >= 1:
		score += imagesFewBonus
	default:
		score -= imagesNonePenalty
	}

	if snapshot.HasPrimary {
		score += primaryImageBonus
	} else {
		score -= primaryImagePenalty
	}

	if snapshot.HasGeo {
		score += geoBonus
	}

	if snapshot.ContactPhone != "" {
		score += contactBonus
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// PriorityForScore maps a score band to a task priority: the worse the
// score, the sooner a human should look at it. Blacklist hits bump the
// task to URGENT regardless of the band (see createReviewTask).
func PriorityForScore(score int) Priority {
	switch {
	case score < 20:
		return PriorityUrgent
	case score < 40:
		return PriorityHigh
	case score < 60:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
