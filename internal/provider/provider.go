// Package provider supplies external pull request data to the sync
// orchestrator. Two interchangeable implementations exist: a deterministic
// dummy generator and a GitHub-backed client.
package provider

import (
	"context"
	"time"
)

// PRData is a provider-neutral snapshot of one pull request.
type PRData struct {
	Number    int
	Title     string
	Body      string
	State     string
	Author    string
	URL       string
	CIStatus  string
	UpdatedAt *time.Time
}

type DataProvider interface {
	// FetchPRDetails returns current metadata for one pull request.
	FetchPRDetails(ctx context.Context, owner, name string, number int) (*PRData, error)
	// FetchPRDiff returns the unified diff text for one pull request.
	FetchPRDiff(ctx context.Context, owner, name string, number int) (string, error)
	// FetchRepositoryPullRequests returns the repository's open pull requests.
	FetchRepositoryPullRequests(ctx context.Context, owner, name string) ([]PRData, error)
}

// Variant identifies a provider implementation.
type Variant int

const (
	VariantDummy Variant = iota
	VariantGitHub
)

// Choose resolves which implementation serves a user: GitHub only when the
// user has a configured access token and no environment override forces
// dummy mode.
func Choose(forceDummy bool, githubToken string) Variant {
	if forceDummy || githubToken == "" {
		return VariantDummy
	}
	return VariantGitHub
}

// Select builds the provider for a user in one step.
func Select(forceDummy bool, githubToken string) DataProvider {
	if Choose(forceDummy, githubToken) == VariantGitHub {
		return NewGitHub(githubToken)
	}
	return NewDummy()
}
