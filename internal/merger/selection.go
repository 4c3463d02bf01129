package merger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
)

// maxParallelFetches bounds concurrent snapshot requests when selecting by IID.
const maxParallelFetches = 4

// MergeRequestLister lists candidate merge requests.
type MergeRequestLister interface {
	ListOpenMergeRequests(ctx context.Context, author string) ([]domain.MergeRequest, error)
}

// MergeRequestGetter fetches one merge request snapshot.
type MergeRequestGetter interface {
	GetMergeRequest(ctx context.Context, iid int) (*domain.MergeRequest, error)
}

// SelectByAuthor returns the author's open merge requests, oldest first.
func SelectByAuthor(ctx context.Context, lister MergeRequestLister, author string) ([]domain.MergeRequest, error) {
	mrs, err := lister.ListOpenMergeRequests(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("listing merge requests of %s: %w", author, err)
	}
	return mrs, nil
}

// SelectByIID fetches the given merge requests in parallel. The result keeps
// the order of iids with duplicates dropped. Any failed fetch fails the whole
// selection.
func SelectByIID(ctx context.Context, getter MergeRequestGetter, iids []int) ([]domain.MergeRequest, error) {
	unique := make([]int, 0, len(iids))
	seen := make(map[int]bool, len(iids))
	for _, iid := range iids {
		if !seen[iid] {
			seen[iid] = true
			unique = append(unique, iid)
		}
	}

	result := make([]domain.MergeRequest, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, iid := range unique {
		g.Go(func() error {
			mr, err := getter.GetMergeRequest(gctx, iid)
			if err != nil {
				return fmt.Errorf("fetching MR #%d: %w", iid, err)
			}
			result[i] = *mr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
