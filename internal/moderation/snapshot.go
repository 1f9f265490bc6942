package moderation

import (
	"fmt"

	apperrors "propstack/pkg/errors"
)

// ParseSnapshot decodes the listing fields out of a property.submitted
// payload. Only property_id is mandatory; everything else degrades to the
// zero value and simply scores worse.
func ParseSnapshot(payload map[string]interface{}) (ListingSnapshot, error) {
	propertyID, ok := payload["property_id"].(string)
	if !ok || propertyID == "" {
		return ListingSnapshot{}, apperrors.ErrValidation.AsFatal().WithDetail("message",
			"payload has no property_id")
	}

	snapshot := ListingSnapshot{
		PropertyID:   propertyID,
		OwnerUserID:  stringField(payload, "owner_user_id"),
		Title:        stringField(payload, "title"),
		Description:  stringField(payload, "description"),
		City:         stringField(payload, "city"),
		Locality:     stringField(payload, "locality"),
		ContactPhone: stringField(payload, "contact_phone"),
	}

	if price, ok := payload["price"].(float64); ok {
		snapshot.Price = price
	}
	if attrs, ok := payload["attributes"].(map[string]interface{}); ok {
		snapshot.Attributes = attrs
	}

	_, hasLat := payload["latitude"].(float64)
	_, hasLon := payload["longitude"].(float64)
	snapshot.HasGeo = hasLat && hasLon

	if images, ok := payload["images"].([]interface{}); ok {
		snapshot.ImageCount = len(images)
		for _, raw := range images {
			img, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if primary, ok := img["is_primary"].(bool); ok && primary {
				snapshot.HasPrimary = true
				break
			}
		}
	}

	return snapshot, nil
}

// Vars flattens the snapshot into the variable set flag-rule expressions
// evaluate against.
func (s ListingSnapshot) Vars(score int) map[string]interface{} {
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return map[string]interface{}{
		"title":         s.Title,
		"description":   s.Description,
		"price":         s.Price,
		"city":          s.City,
		"locality":      s.Locality,
		"contact_phone": s.ContactPhone,
		"image_count":   s.ImageCount,
		"score":         score,
		"attributes":    attrs,
	}
}

func stringField(payload map[string]interface{}, key string) string {
	value, _ := payload[key].(string)
	return value
}

func (s ListingSnapshot) String() string {
	return fmt.Sprintf("listing %s (%d images, %d attributes)",
		s.PropertyID, s.ImageCount, len(s.Attributes))
}
