package provider

import (
	"context"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
)

// GitHub fetches pull request data through the GitHub REST API using the
// owning user's access token.
type GitHub struct {
	gh *gh.Client
}

func NewGitHub(token string) *GitHub {
	return &GitHub{gh: gh.NewClient(nil).WithAuthToken(token)}
}

func (g *GitHub) FetchPRDetails(ctx context.Context, owner, name string, number int) (*PRData, error) {
	pr, _, err := g.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, apperr.Provider("fetching PR details", err)
	}
	data := prDataFromGH(pr)

	// CI state is best effort; a PR without statuses still syncs.
	if sha := pr.GetHead().GetSHA(); sha != "" {
		status, _, err := g.gh.Repositories.GetCombinedStatus(ctx, owner, name, sha, nil)
		if err == nil {
			data.CIStatus = status.GetState()
		}
	}
	return data, nil
}

func (g *GitHub) FetchPRDiff(ctx context.Context, owner, name string, number int) (string, error) {
	diff, _, err := g.gh.PullRequests.GetRaw(ctx, owner, name, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", apperr.Provider("fetching PR diff", err)
	}
	return diff, nil
}

func (g *GitHub) FetchRepositoryPullRequests(ctx context.Context, owner, name string) ([]PRData, error) {
	opts := &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	list, _, err := g.gh.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, apperr.Provider("listing pull requests", err)
	}
	prs := make([]PRData, 0, len(list))
	for _, pr := range list {
		prs = append(prs, *prDataFromGH(pr))
	}
	return prs, nil
}

func prDataFromGH(pr *gh.PullRequest) *PRData {
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	author := "unknown"
	if pr.GetUser() != nil {
		author = pr.GetUser().GetLogin()
	}
	var updated *time.Time
	if ts := pr.GetUpdatedAt(); !ts.IsZero() {
		t := ts.Time
		updated = &t
	}
	return &PRData{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		State:     state,
		Author:    author,
		URL:       pr.GetHTMLURL(),
		UpdatedAt: updated,
	}
}
