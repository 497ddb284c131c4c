package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `# Town
## Bakery
Warm bread.

## Park
Green grass.

# Forest
## Cabin
Small hut.
`

func TestPlaces(t *testing.T) {
	assert.Equal(t, []Place{
		{Area: "Town", Name: "Bakery", Description: "Warm bread."},
		{Area: "Town", Name: "Park", Description: "Green grass."},
		{Area: "Forest", Name: "Cabin", Description: "Small hut."},
	}, Places(doc))

	p, ok := Find(doc, "cabin")
	require.True(t, ok)
	assert.Equal(t, "Forest", p.Area)

	_, ok = Find(doc, "Harbor")
	assert.False(t, ok)
}

func TestUpdatePlaceDescription(t *testing.T) {
	out, err := UpdatePlaceDescription(doc, "town", "park", "Autumn leaves.")
	require.NoError(t, err)
	assert.Equal(t, "# Town\n## Bakery\nWarm bread.\n\n## Park\nAutumn leaves.\n\n# Forest\n## Cabin\nSmall hut.\n", out)

	out, err = UpdatePlaceDescription(doc, "Town", "Parc", "typo")
	assert.ErrorIs(t, err, ErrPlaceNotFound)
	assert.Equal(t, doc, out)

	_, err = UpdatePlaceDescription(doc, "Sea", "Pier", "typo")
	assert.ErrorIs(t, err, ErrAreaNotFound)
}

func TestAddPlace(t *testing.T) {
	out, err := AddPlace(doc, "Town", "Library", "Quiet.")
	require.NoError(t, err)
	assert.Equal(t, "# Town\n## Bakery\nWarm bread.\n\n## Park\nGreen grass.\n\n## Library\nQuiet.\n\n# Forest\n## Cabin\nSmall hut.\n", out)

	out, err = AddPlace(doc, "Sea", "Pier", "Windy.")
	require.NoError(t, err)
	assert.Equal(t, doc[:len(doc)-1]+"\n\n# Sea\n\n## Pier\nWindy.\n\n", out)

	out, err = AddPlace(doc, "Forest", "bakery", "again")
	assert.ErrorIs(t, err, ErrPlaceExists)
	assert.Equal(t, doc, out)

	out, err = AddPlace("", "Home", "Kitchen", "Cozy.")
	require.NoError(t, err)
	assert.Equal(t, "# Home\n\n## Kitchen\nCozy.\n\n", out)
}

func TestDeletePlace(t *testing.T) {
	out, err := DeletePlace(doc, "Town", "Bakery")
	require.NoError(t, err)
	assert.Equal(t, "# Town\n## Park\nGreen grass.\n\n# Forest\n## Cabin\nSmall hut.\n", out)

	_, err = DeletePlace(doc, "Forest", "Bakery")
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}
