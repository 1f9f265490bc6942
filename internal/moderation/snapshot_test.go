package moderation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	// Round-trip through JSON so the payload carries the types a consumer
	// actually sees (float64 numbers, []interface{} arrays).
	raw := `{
		"property_id": "prop-1",
		"owner_user_id": "user-1",
		"title": "Sunny two bedroom apartment",
		"description": "Bright and quiet flat close to the metro.",
		"price": 250000,
		"city": "Lisbon",
		"locality": "Alvalade",
		"contact_phone": "+351 21 000 0000",
		"latitude": 38.75,
		"longitude": -9.14,
		"attributes": {"rooms": 2, "area_sqm": 78},
		"images": [
			{"url": "https://img.example/1.jpg", "is_primary": false},
			{"url": "https://img.example/2.jpg", "is_primary": true}
		]
	}`

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	snapshot, err := ParseSnapshot(payload)
	require.NoError(t, err)

	assert.Equal(t, "prop-1", snapshot.PropertyID)
	assert.Equal(t, "user-1", snapshot.OwnerUserID)
	assert.Equal(t, float64(250000), snapshot.Price)
	assert.Equal(t, "Lisbon", snapshot.City)
	assert.Equal(t, 2, snapshot.ImageCount)
	assert.True(t, snapshot.HasPrimary)
	assert.True(t, snapshot.HasGeo)
	assert.Len(t, snapshot.Attributes, 2)
}

func TestParseSnapshot_MissingPropertyID(t *testing.T) {
	_, err := ParseSnapshot(map[string]interface{}{"title": "no id"})
	require.Error(t, err)
}

func TestParseSnapshot_MinimalPayload(t *testing.T) {
	snapshot, err := ParseSnapshot(map[string]interface{}{"property_id": "prop-1"})
	require.NoError(t, err)

	assert.Equal(t, "prop-1", snapshot.PropertyID)
	assert.Zero(t, snapshot.ImageCount)
	assert.False(t, snapshot.HasGeo)
	assert.False(t, snapshot.HasPrimary)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "351210000000", normalizePhone("+351 21 000 0000"))
	assert.Equal(t, "351210000000", normalizePhone("(351) 21-000-0000"))
	assert.Equal(t, "", normalizePhone("no digits"))
}
