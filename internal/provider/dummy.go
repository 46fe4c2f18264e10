package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

var dummyTitles = []string{
	"Fix flaky retry logic in worker pool",
	"Add pagination to repository listing",
	"Refactor session middleware",
	"Bump dependency versions",
	"Improve error messages for invalid input",
	"Add missing index on messages table",
	"Extract diff rendering helper",
	"Handle empty diff in review view",
}

var dummyAuthors = []string{"octocat", "hubot", "monalisa", "defunkt"}

var dummyCIStatuses = []string{"success", "pending", "failure"}

// Dummy generates synthetic pull request data. Output is deterministic per
// (owner, name, number) so tests and demo mode behave reproducibly.
type Dummy struct{}

func NewDummy() *Dummy { return &Dummy{} }

func dummyHash(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum32()
}

func (d *Dummy) FetchPRDetails(_ context.Context, owner, name string, number int) (*PRData, error) {
	h := dummyHash(owner, name, fmt.Sprint(number))
	updated := time.Now().Add(-time.Duration(h%72) * time.Hour)
	return &PRData{
		Number:    number,
		Title:     fmt.Sprintf("%s (#%d)", dummyTitles[h%uint32(len(dummyTitles))], number),
		Body:      fmt.Sprintf("Synthetic pull request #%d for %s/%s.", number, owner, name),
		State:     "open",
		Author:    dummyAuthors[h%uint32(len(dummyAuthors))],
		URL:       fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, name, number),
		CIStatus:  dummyCIStatuses[h%uint32(len(dummyCIStatuses))],
		UpdatedAt: &updated,
	}, nil
}

func (d *Dummy) FetchPRDiff(_ context.Context, owner, name string, number int) (string, error) {
	return fmt.Sprintf(`diff --git a/internal/app/service.go b/internal/app/service.go
index %07x..%07x 100644
--- a/internal/app/service.go
+++ b/internal/app/service.go
@@ -10,7 +10,9 @@ func process(items []Item) error {
 	for _, it := range items {
-		if err := handle(it); err != nil {
+		if err := handle(it); err != nil {
+			log.Printf("handle %%v: %%v", it.ID, err)
 			return err
 		}
 	}
`, dummyHash(owner, name), dummyHash(owner, name, fmt.Sprint(number))), nil
}

func (d *Dummy) FetchRepositoryPullRequests(ctx context.Context, owner, name string) ([]PRData, error) {
	// Stable small set per repository: between 2 and 4 open PRs.
	count := int(dummyHash(owner, name)%3) + 2
	prs := make([]PRData, 0, count)
	for i := 1; i <= count; i++ {
		pr, err := d.FetchPRDetails(ctx, owner, name, i)
		if err != nil {
			return nil, err
		}
		prs = append(prs, *pr)
	}
	return prs, nil
}
