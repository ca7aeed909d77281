package seed

import (
	"strings"
	"testing"
)

func TestParse_EmbeddedDefaults(t *testing.T) {
	fx, err := Parse(defaultFixtures)
	if err != nil {
		t.Fatalf("embedded fixtures failed to parse: %v", err)
	}
	if len(fx.Sports) == 0 || len(fx.Categories) == 0 || len(fx.Teams) == 0 {
		t.Fatalf("embedded fixtures incomplete: %d sports, %d categories, %d teams",
			len(fx.Sports), len(fx.Categories), len(fx.Teams))
	}

	// Auto-play needs at least one two-outcome category so the order book
	// can run against the same market.
	binary := false
	for _, c := range fx.Categories {
		if len(c.Outcomes) == 2 {
			binary = true
		}
	}
	if !binary {
		t.Error("embedded fixtures have no binary category")
	}

	// Every sport referenced by a category must field at least two teams,
	// otherwise no game can be created under it.
	teamsBySport := map[string]int{}
	for _, tm := range fx.Teams {
		teamsBySport[tm.Sport]++
	}
	for _, c := range fx.Categories {
		if teamsBySport[c.Sport] < 2 {
			t.Errorf("sport %q has a category but fewer than 2 teams", c.Sport)
		}
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid minimal document",
			yaml: `
sports:
  - {id: darts, name: Darts}
categories:
  - {id: darts-winner, sport: darts, outcomes: [HOME, AWAY], description: Match winner}
teams:
  - {id: t1, sport: darts, code: T1, name: Team One}
`,
		},
		{
			name:    "duplicate sport",
			yaml:    "sports:\n  - {id: darts, name: Darts}\n  - {id: darts, name: Darts Again}\n",
			wantErr: "duplicate sport",
		},
		{
			name:    "category references unknown sport",
			yaml:    "sports:\n  - {id: darts, name: Darts}\ncategories:\n  - {id: x, sport: cricket, outcomes: [A, B]}\n",
			wantErr: "unknown sport",
		},
		{
			name:    "category with one outcome",
			yaml:    "sports:\n  - {id: darts, name: Darts}\ncategories:\n  - {id: x, sport: darts, outcomes: [ONLY]}\n",
			wantErr: "at least 2 outcomes",
		},
		{
			name:    "team references unknown sport",
			yaml:    "sports:\n  - {id: darts, name: Darts}\nteams:\n  - {id: t1, sport: cricket, code: T1, name: Team One}\n",
			wantErr: "unknown sport",
		},
		{
			name:    "sport missing name",
			yaml:    "sports:\n  - {id: darts}\n",
			wantErr: "needs id and name",
		},
		{
			name:    "not yaml at all",
			yaml:    "{{{{",
			wantErr: "seed.Parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Parse() = nil error, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
