// Package seed loads sport, category, and team reference data into the
// database. Defaults ship embedded in the binary; cmd/seed can apply a
// custom YAML file instead. All writes are upserts, so seeding is safe to
// repeat and is re-run by the admin reset.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/lib/pq"

	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the YAML document shape.
type Fixtures struct {
	Sports     []SportFixture    `yaml:"sports"`
	Categories []CategoryFixture `yaml:"categories"`
	Teams      []TeamFixture     `yaml:"teams"`
}

// SportFixture seeds one sports row.
type SportFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CategoryFixture seeds one market category with its ordered outcome list.
type CategoryFixture struct {
	ID          string   `yaml:"id"`
	Sport       string   `yaml:"sport"`
	Outcomes    []string `yaml:"outcomes"`
	Description string   `yaml:"description"`
}

// TeamFixture seeds one team row.
type TeamFixture struct {
	ID    string `yaml:"id"`
	Sport string `yaml:"sport"`
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
}

// Seeder applies fixture documents through the game repository.
type Seeder struct {
	games *repository.GameRepository
}

// NewSeeder creates a Seeder.
func NewSeeder(games *repository.GameRepository) *Seeder {
	return &Seeder{games: games}
}

// EnsureDefaults applies the embedded fixture set. Called at startup and by
// the admin reset after truncating data tables.
func (s *Seeder) EnsureDefaults(ctx context.Context) error {
	fx, err := Parse(defaultFixtures)
	if err != nil {
		return fmt.Errorf("seed.EnsureDefaults: %w", err)
	}
	return s.Apply(ctx, fx)
}

// ApplyFile reads a YAML fixture document from disk and applies it.
func (s *Seeder) ApplyFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed.ApplyFile: read %q: %w", path, err)
	}
	fx, err := Parse(data)
	if err != nil {
		return fmt.Errorf("seed.ApplyFile: %q: %w", path, err)
	}
	return s.Apply(ctx, fx)
}

// Parse unmarshals and validates a fixture document.
func Parse(data []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("seed.Parse: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// validate checks internal consistency before anything touches the DB.
func (f *Fixtures) validate() error {
	sports := make(map[string]bool, len(f.Sports))
	for _, s := range f.Sports {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("seed: sport needs id and name, got %+v", s)
		}
		if sports[s.ID] {
			return fmt.Errorf("seed: duplicate sport %q", s.ID)
		}
		sports[s.ID] = true
	}
	for _, c := range f.Categories {
		if c.ID == "" {
			return fmt.Errorf("seed: category needs an id, got %+v", c)
		}
		if !sports[c.Sport] {
			return fmt.Errorf("seed: category %q references unknown sport %q", c.ID, c.Sport)
		}
		if len(c.Outcomes) < 2 {
			return fmt.Errorf("seed: category %q needs at least 2 outcomes, got %d", c.ID, len(c.Outcomes))
		}
	}
	for _, t := range f.Teams {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("seed: team needs id and name, got %+v", t)
		}
		if !sports[t.Sport] {
			return fmt.Errorf("seed: team %q references unknown sport %q", t.ID, t.Sport)
		}
	}
	return nil
}

// Apply upserts a validated fixture set in foreign-key order.
func (s *Seeder) Apply(ctx context.Context, fx *Fixtures) error {
	for _, f := range fx.Sports {
		sport := &domain.Sport{ID: f.ID, Name: f.Name}
		if err := s.games.UpsertSport(ctx, sport); err != nil {
			return fmt.Errorf("seed.Apply: sport %q: %w", f.ID, err)
		}
	}
	for _, f := range fx.Categories {
		cat := &domain.Category{
			ID:          f.ID,
			SportID:     f.Sport,
			Outcomes:    pq.StringArray(f.Outcomes),
			Description: f.Description,
		}
		if err := s.games.UpsertCategory(ctx, cat); err != nil {
			return fmt.Errorf("seed.Apply: category %q: %w", f.ID, err)
		}
	}
	for _, f := range fx.Teams {
		team := &domain.Team{ID: f.ID, SportID: f.Sport, Code: f.Code, Name: f.Name}
		if err := s.games.UpsertTeam(ctx, team); err != nil {
			return fmt.Errorf("seed.Apply: team %q: %w", f.ID, err)
		}
	}
	slog.Info("seed applied",
		"sports", len(fx.Sports),
		"categories", len(fx.Categories),
		"teams", len(fx.Teams))
	return nil
}
