package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoose(t *testing.T) {
	assert.Equal(t, VariantDummy, Choose(false, ""), "no token means dummy")
	assert.Equal(t, VariantDummy, Choose(true, "ghp_token"), "override wins over token")
	assert.Equal(t, VariantGitHub, Choose(false, "ghp_token"))
}

func TestSelect(t *testing.T) {
	assert.IsType(t, &Dummy{}, Select(false, ""))
	assert.IsType(t, &Dummy{}, Select(true, "ghp_token"))
	assert.IsType(t, &GitHub{}, Select(false, "ghp_token"))
}

func TestDummyDeterministic(t *testing.T) {
	d := NewDummy()
	ctx := context.Background()

	a, err := d.FetchPRDetails(ctx, "octo", "widgets", 7)
	require.NoError(t, err)
	b, err := d.FetchPRDetails(ctx, "octo", "widgets", 7)
	require.NoError(t, err)

	assert.Equal(t, a.Title, b.Title)
	assert.Equal(t, a.Author, b.Author)
	assert.Equal(t, "open", a.State)
	assert.Equal(t, 7, a.Number)
	assert.Contains(t, a.URL, "octo/widgets/pull/7")
}

func TestDummyDiff(t *testing.T) {
	d := NewDummy()
	diff, err := d.FetchPRDiff(context.Background(), "octo", "widgets", 1)
	require.NoError(t, err)
	assert.Contains(t, diff, "diff --git")
}

func TestDummyRepositoryList(t *testing.T) {
	d := NewDummy()
	prs, err := d.FetchRepositoryPullRequests(context.Background(), "octo", "widgets")
	require.NoError(t, err)
	require.NotEmpty(t, prs)
	assert.LessOrEqual(t, len(prs), 4)
	for i, pr := range prs {
		assert.Equal(t, i+1, pr.Number)
		assert.Equal(t, "open", pr.State)
	}
}
