// Package catalog loads the recommendable items from a YAML seed file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/suPer8Hu/playmate/internal/embedding"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one item as written in the seed file.
type Entry struct {
	Title      string   `yaml:"title"`
	Genres     []string `yaml:"genres"`
	Platforms  []string `yaml:"platforms"`
	AgeRating  int      `yaml:"age_rating"`
	Gameplay   string   `yaml:"gameplay"`
	Preference string   `yaml:"preference"`
}

type file struct {
	Items []Entry `yaml:"items"`
}

var ErrEmptyCatalog = errors.New("catalog has no items")

// Parse decodes and validates a seed document. Genres are listed from the
// broadest to the most specific tag.
func Parse(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Items) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(f.Items))
	for i := range f.Items {
		e := &f.Items[i]
		e.Title = strings.TrimSpace(e.Title)
		if e.Title == "" {
			return nil, fmt.Errorf("item %d: title required", i)
		}
		key := strings.ToLower(e.Title)
		if seen[key] {
			return nil, fmt.Errorf("item %q: duplicate title", e.Title)
		}
		seen[key] = true
		if len(e.Genres) == 0 {
			return nil, fmt.Errorf("item %q: at least one genre required", e.Title)
		}
		if e.AgeRating < 0 {
			return nil, fmt.Errorf("item %q: negative age rating", e.Title)
		}
	}
	return f.Items, nil
}

func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

type Importer struct {
	db       *gorm.DB
	embedder embedding.Embedder
	log      *logger.Logger
}

func NewImporter(db *gorm.DB, embedder embedding.Embedder, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	return &Importer{db: db, embedder: embedder, log: log.With("service", "CatalogImporter")}
}

// Import embeds each entry's descriptions and upserts it by title. An item
// whose embedding fails is still stored; it scores 0 on that similarity.
func (im *Importer) Import(ctx context.Context, entries []Entry) (int, error) {
	n := 0
	for _, e := range entries {
		item := &models.Item{
			Title:                 e.Title,
			Genres:                e.Genres,
			Platforms:             e.Platforms,
			AgeRating:             e.AgeRating,
			GameplayDescription:   e.Gameplay,
			PreferenceDescription: e.Preference,
			GameplayEmbedding:     im.embed(ctx, e.Title, e.Gameplay),
			PreferenceEmbedding:   im.embed(ctx, e.Title, e.Preference),
		}
		err := im.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "title"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"genres", "platforms", "age_rating",
					"gameplay_description", "preference_description",
					"gameplay_embedding", "preference_embedding", "updated_at",
				}),
			}).
			Create(item).Error
		if err != nil {
			return n, fmt.Errorf("upsert %q: %w", e.Title, err)
		}
		n++
	}
	im.log.Info("catalog imported", "items", n)
	return n, nil
}

func (im *Importer) embed(ctx context.Context, title, text string) []float32 {
	text = strings.TrimSpace(text)
	if im.embedder == nil || text == "" {
		return nil
	}
	vec, err := im.embedder.Embed(ctx, text)
	if err != nil {
		im.log.Warn("embedding failed", "title", title, "error", err)
		return nil
	}
	return vec
}
