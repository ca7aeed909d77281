package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ──────────────────────────────────────────────────────────────────────────────
// Static reference data (seeded)
// ──────────────────────────────────────────────────────────────────────────────

// Sport is a top-level grouping for teams, games, and market categories.
type Sport struct {
	ID   string `json:"id"   db:"id"`
	Name string `json:"name" db:"name"`
}

// Category defines a market template under a sport. Its ordered outcome list
// fixes the dimensionality of every market created from it; the order book
// additionally requires exactly two outcomes.
type Category struct {
	ID          string         `json:"id"          db:"id"`
	SportID     string         `json:"sportId"     db:"sport_id"`
	Outcomes    pq.StringArray `json:"outcomes"    db:"outcomes"`
	Description string         `json:"description" db:"description"`
}

// OutcomeIndex returns the position of the given label in the outcome list,
// or -1 when the label is unknown.
func (c *Category) OutcomeIndex(label string) int {
	for i, o := range c.Outcomes {
		if o == label {
			return i
		}
	}
	return -1
}

// IsBinary reports whether the category has exactly two outcomes.
func (c *Category) IsBinary() bool {
	return len(c.Outcomes) == 2
}

// Team belongs to one sport.
type Team struct {
	ID      string `json:"id"      db:"id"`
	SportID string `json:"sportId" db:"sport_id"`
	Code    string `json:"code"    db:"code"`
	Name    string `json:"name"    db:"name"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Game
// ──────────────────────────────────────────────────────────────────────────────

// GameStatus represents a game's lifecycle state.
type GameStatus string

const (
	GameScheduled GameStatus = "SCHEDULED"
	GameActive    GameStatus = "ACTIVE"
	GameCompleted GameStatus = "COMPLETED"
)

// Game is one real-world event; only ACTIVE games may host an open market.
type Game struct {
	ID         uuid.UUID  `json:"id"         db:"id"`
	SportID    string     `json:"sportId"    db:"sport_id"`
	HomeTeamID string     `json:"homeTeamId" db:"home_team_id"`
	AwayTeamID string     `json:"awayTeamId" db:"away_team_id"`
	Status     GameStatus `json:"status"     db:"status"`
	CreatedAt  time.Time  `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt"  db:"updated_at"`
}

// IsActive returns true while the game may host markets.
func (g *Game) IsActive() bool {
	return g.Status == GameActive
}

// GameState is the singleton admin kill-switch row. While inactive, no
// market may be created or opened anywhere on the hub.
type GameState struct {
	Active    bool      `json:"active"    db:"active"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
