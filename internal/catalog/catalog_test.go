package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/playmate/internal/db/dbtest"
	"github.com/suPer8Hu/playmate/internal/models"
)

type lengthEmbedder struct{ fail string }

func (e lengthEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail != "" && strings.Contains(text, e.fail) {
		return nil, errors.New("model unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

const seed = `
items:
  - title: Celeste
    genres: [platformer, precision platformer]
    platforms: [PC, Switch]
    age_rating: 7
    gameplay: tight jumping and climbing
    preference: heartfelt story about anxiety
  - title: "  Hades "
    genres: [action, roguelike]
    platforms: [PC]
    age_rating: 12
    gameplay: fast combat runs
`

func TestParse(t *testing.T) {
	entries, err := Parse([]byte(seed))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Hades", entries[1].Title)
	assert.Equal(t, []string{"platformer", "precision platformer"}, entries[0].Genres)
	assert.Equal(t, 7, entries[0].AgeRating)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":     "items: []",
		"no title":  "items:\n  - genres: [puzzle]",
		"no genres": "items:\n  - title: Tetris",
		"duplicate": "items:\n  - title: Tetris\n    genres: [puzzle]\n  - title: tetris\n    genres: [puzzle]",
		"bad yaml":  "items: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
	_, err := Parse([]byte("items: []"))
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestLoad_SampleCatalog(t *testing.T) {
	entries, err := Load("../../configs/catalog.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestImport_UpsertsByTitle(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	entries, err := Parse([]byte(seed))
	require.NoError(t, err)

	im := NewImporter(gdb, lengthEmbedder{fail: "combat"}, nil)
	n, err := im.Import(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries[0].AgeRating = 10
	entries[0].Platforms = []string{"PC"}
	_, err = im.Import(ctx, entries)
	require.NoError(t, err)

	var items []models.Item
	require.NoError(t, gdb.Order("id ASC").Find(&items).Error)
	require.Len(t, items, 2)

	celeste := items[0]
	assert.Equal(t, 10, celeste.AgeRating)
	assert.Equal(t, []string{"PC"}, []string(celeste.Platforms))
	assert.Equal(t, []float32{float32(len("tight jumping and climbing")), 1}, []float32(celeste.GameplayEmbedding))

	hades := items[1]
	assert.Empty(t, hades.GameplayEmbedding, "failed embedding is stored empty")
	assert.Empty(t, hades.PreferenceEmbedding, "blank description is not embedded")
}
