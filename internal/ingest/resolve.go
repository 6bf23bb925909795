package ingest

import (
	"context"
	"fmt"

	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/vcs"
)

// resolver maps revisions to changeset ids inside one push transaction.
// Results are staged in pending and only promoted to the shared memo once
// the transaction commits.
type resolver struct {
	q            *store.Queries
	repo         vcs.Repo
	repositoryID int64
	memo         map[string]int64
	pending      map[string]int64
	chunkSize    int
	created      int
}

func newResolver(q *store.Queries, repo vcs.Repo, repositoryID int64, memo map[string]int64, chunkSize int) *resolver {
	return &resolver{
		q:            q,
		repo:         repo,
		repositoryID: repositoryID,
		memo:         memo,
		pending:      make(map[string]int64),
		chunkSize:    chunkSize,
	}
}

func (r *resolver) commit() {
	for rev, id := range r.pending {
		r.memo[rev] = id
	}
}

func (r *resolver) known(rev string) (int64, bool) {
	if id, ok := r.pending[rev]; ok {
		return id, true
	}
	id, ok := r.memo[rev]
	return id, ok
}

type frame struct {
	rev  string
	info *vcs.ChangesetInfo
}

// resolve returns the changeset id for revision, creating it and any missing
// ancestors. Ancestors are visited through an explicit stack.
func (r *resolver) resolve(ctx context.Context, revision string) (int64, error) {
	if id, ok := r.known(revision); ok {
		if err := r.q.AttachChangeset(ctx, r.repositoryID, id); err != nil {
			return 0, err
		}
		return id, nil
	}

	inProgress := map[string]bool{}
	stack := []*frame{{rev: revision}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if _, ok := r.known(top.rev); ok {
			stack = stack[:len(stack)-1]
			continue
		}

		if top.info == nil {
			found, err := r.attachExisting(ctx, top.rev, top.rev)
			if err != nil {
				return 0, err
			}
			if found {
				stack = stack[:len(stack)-1]
				continue
			}
			info, err := r.repo.Resolve(ctx, top.rev)
			if err != nil {
				return 0, fmt.Errorf("resolve revision %s: %w", top.rev, err)
			}
			if info.Revision != top.rev {
				found, err := r.attachExisting(ctx, info.Revision, top.rev)
				if err != nil {
					return 0, err
				}
				if found {
					stack = stack[:len(stack)-1]
					continue
				}
			}
			top.info = info
			inProgress[top.rev] = true
			inProgress[info.Revision] = true
		}

		missing := false
		for i := len(top.info.Parents) - 1; i >= 0; i-- {
			parent := top.info.Parents[i]
			if _, ok := r.known(parent); ok {
				continue
			}
			if inProgress[parent] {
				return 0, services.Wrap(services.ErrVCS, "ingest", "resolve",
					fmt.Sprintf("changeset %s is its own ancestor", parent), nil)
			}
			stack = append(stack, &frame{rev: parent})
			missing = true
		}
		if missing {
			continue
		}

		id, err := r.create(ctx, top.info)
		if err != nil {
			return 0, err
		}
		r.pending[top.rev] = id
		r.pending[top.info.Revision] = id
		delete(inProgress, top.rev)
		delete(inProgress, top.info.Revision)
		stack = stack[:len(stack)-1]
	}

	id, ok := r.known(revision)
	if !ok {
		return 0, services.Wrap(services.ErrNotFound, "ingest", "resolve", fmt.Sprintf("revision %s", revision), nil)
	}
	return id, nil
}

// attachExisting links a stored changeset to the repository and records it
// under alias.
func (r *resolver) attachExisting(ctx context.Context, revision, alias string) (bool, error) {
	ids, err := r.q.ChangesetIDsByRevision(ctx, []string{revision})
	if err != nil {
		return false, err
	}
	id, ok := ids[revision]
	if !ok {
		return false, nil
	}
	if err := r.q.AttachChangeset(ctx, r.repositoryID, id); err != nil {
		return false, err
	}
	r.pending[revision] = id
	r.pending[alias] = id
	return true, nil
}

func (r *resolver) create(ctx context.Context, info *vcs.ChangesetInfo) (int64, error) {
	parentIDs := make([]int64, 0, len(info.Parents))
	for _, parent := range info.Parents {
		id, ok := r.known(parent)
		if !ok {
			return 0, services.Wrap(services.ErrNotFound, "ingest", "create changeset",
				fmt.Sprintf("parent %s of %s unresolved", parent, info.Revision), nil)
		}
		parentIDs = append(parentIDs, id)
	}

	id, err := r.q.InsertChangeset(ctx, store.NewChangeset{
		Revision:    info.Revision,
		Author:      info.Author,
		Description: info.Description,
		Branch:      info.Branch,
	})
	if err != nil {
		return 0, err
	}
	if err := r.q.SetChangesetParents(ctx, id, parentIDs); err != nil {
		return 0, err
	}
	if err := r.q.AttachChangeset(ctx, r.repositoryID, id); err != nil {
		return 0, err
	}
	if len(info.Files) > 0 {
		fileIDs, err := ensureFiles(ctx, r.q, info.Files, r.chunkSize)
		if err != nil {
			return 0, err
		}
		if err := r.q.AttachFiles(ctx, id, fileIDs, r.chunkSize); err != nil {
			return 0, err
		}
	}
	r.created++
	return id, nil
}
