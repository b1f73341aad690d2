package resolve_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/domain"
	"momentum/internal/resolve"
)

func goals(titles ...string) []domain.Goal {
	out := make([]domain.Goal, 0, len(titles))
	for i, title := range titles {
		out = append(out, domain.Goal{ID: string(rune('a' + i)), Title: title, Type: domain.GoalTypeNumeric})
	}
	return out
}

func TestResolveByID(t *testing.T) {
	items := goals("Run a marathon", "Read 20 books")
	got, err := resolve.Resolve(domain.KindGoal, items, resolve.Reference{ID: "b"}, resolve.Options[domain.Goal]{})
	require.NoError(t, err)
	assert.Equal(t, "Read 20 books", got.Title)

	_, err = resolve.Resolve(domain.KindGoal, items, resolve.Reference{ID: "zzz"}, resolve.Options[domain.Goal]{})
	var nf domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "zzz", nf.Reference)
}

func TestResolveAmbiguousPhotography(t *testing.T) {
	items := goals("Photography Basics", "Photography Advanced")
	_, err := resolve.ByName(domain.KindGoal, items, "photography")
	var amb domain.AmbiguousError
	require.True(t, errors.As(err, &amb), "expected ambiguity, got %v", err)
	require.Len(t, amb.Candidates, 2)
	assert.ElementsMatch(t, []string{"Photography Basics", "Photography Advanced"},
		[]string{amb.Candidates[0].Title, amb.Candidates[1].Title})

	got, err := resolve.ByName(domain.KindGoal, goals("Photography Basics"), "photography")
	require.NoError(t, err)
	assert.Equal(t, "Photography Basics", got.Title)
}

func TestResolveRulePrecedence(t *testing.T) {
	items := goals("Fitness", "Fitness Journey", "Improve fitness")
	got, err := resolve.ByName(domain.KindGoal, items, "FITNESS")
	require.NoError(t, err)
	assert.Equal(t, "Fitness", got.Title, "exact match wins over prefix and substring")

	items = goals("Summer fitness plan", "Fitness journey", "Daily fitness")
	got, err = resolve.ByName(domain.KindGoal, items, "fit")
	require.NoError(t, err)
	assert.Equal(t, "Fitness journey", got.Title, "prefix match wins over substring")
}

func TestResolveSubstringTieBreak(t *testing.T) {
	// earliest index wins
	items := goals("Learn guitar chords", "My guitar")
	got, err := resolve.ByName(domain.KindGoal, items, "guitar")
	require.NoError(t, err)
	assert.Equal(t, "My guitar", got.Title)

	// same index, shortest title wins
	items = goals("Do yoga daily", "Do yoga")
	got, err = resolve.ByName(domain.KindGoal, items, "yoga")
	require.NoError(t, err)
	assert.Equal(t, "Do yoga", got.Title)

	_, err = resolve.ByName(domain.KindGoal, items, "pilates")
	assert.True(t, domain.IsNotFound(err))
}

func TestInferFromContext(t *testing.T) {
	items := goals("Only goal")
	got, err := resolve.Resolve(domain.KindGoal, items, resolve.Reference{}, resolve.Options[domain.Goal]{})
	require.NoError(t, err)
	assert.Equal(t, "Only goal", got.Title)

	items = []domain.Goal{
		{ID: "1", Title: "Save money", Type: domain.GoalTypeNumeric},
		{ID: "2", Title: "Ship the app", Type: domain.GoalTypeProject},
		{ID: "3", Title: "Old one", Type: domain.GoalTypeMilestone, Completed: true},
	}
	opts := resolve.Options[domain.Goal]{Prefer: func(g domain.Goal) bool {
		return g.Type == domain.GoalTypeMilestone || g.Type == domain.GoalTypeProject
	}}
	got, err = resolve.Resolve(domain.KindGoal, items, resolve.Reference{}, opts)
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)

	items = append(items, domain.Goal{ID: "4", Title: "Write a book", Type: domain.GoalTypeProject})
	_, err = resolve.Resolve(domain.KindGoal, items, resolve.Reference{}, opts)
	var amb domain.AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.Candidates, 2)

	_, err = resolve.Resolve(domain.KindGoal, nil, resolve.Reference{}, opts)
	assert.True(t, domain.IsNotFound(err))
}
