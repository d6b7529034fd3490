// Package temporal indexes git history: every unique blob reachable from
// the selected commits is chunked and embedded once, with commit context
// in the payload.
package temporal

import (
	"fmt"
	"io"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// CommitInfo carries the commit fields recorded in temporal payloads.
type CommitInfo struct {
	Hash        string
	Date        time.Time
	AuthorName  string
	AuthorEmail string
	Message     string
}

// BlobRef is one (path, blob) tuple in a commit's tree.
type BlobRef struct {
	Path     string
	BlobHash string
	Size     int64
}

// Repo wraps a go-git repository with the read operations the temporal
// indexer and the query engine's branch filter need.
type Repo struct {
	repo *gogit.Repository
	root string
}

// OpenRepo opens the repository at root.
func OpenRepo(root string) (*Repo, error) {
	r, err := gogit.PlainOpen(root)
	if err != nil {
		return nil, ierr.New(ierr.ErrCodeInvalidPath, fmt.Sprintf("not a git repository: %s", root), err)
	}
	return &Repo{repo: r, root: root}, nil
}

// Root returns the repository root.
func (r *Repo) Root() string { return r.root }

// CurrentBranch returns the short name of the checked-out branch, or the
// empty string on a detached HEAD.
func (r *Repo) CurrentBranch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	if !ref.Name().IsBranch() {
		return "", nil
	}
	return ref.Name().Short(), nil
}

// BranchHead resolves a branch name to its head commit hash. Local
// branches win over remote-tracking ones.
func (r *Repo) BranchHead(branch string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		ref, err = r.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
		if err != nil {
			return "", fmt.Errorf("branch %s not found: %w", branch, err)
		}
	}
	return ref.Hash().String(), nil
}

// CommitsChronological lists commits reachable from the given head, oldest
// first. A zero since lists everything.
func (r *Repo) CommitsChronological(head string, since *time.Time) ([]CommitInfo, error) {
	var from plumbing.Hash
	if head == "" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, err
		}
		from = ref.Hash()
	} else {
		from = plumbing.NewHash(head)
	}

	iter, err := r.repo.Log(&gogit.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("failed to walk commits: %w", err)
	}
	defer iter.Close()

	var commits []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if since != nil && c.Committer.When.Before(*since) {
			return nil
		}
		commits = append(commits, commitInfo(c))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(commits, func(i, j int) bool { return commits[i].Date.Before(commits[j].Date) })
	return commits, nil
}

// Commit returns one commit's info.
func (r *Repo) Commit(hash string) (CommitInfo, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit %s not found: %w", hash, err)
	}
	return commitInfo(c), nil
}

// CommitBlobs lists (path, blob) tuples for a commit's tree.
func (r *Repo) CommitBlobs(hash string) ([]BlobRef, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("commit %s not found: %w", hash, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	var refs []BlobRef
	err = tree.Files().ForEach(func(f *object.File) error {
		refs = append(refs, BlobRef{Path: f.Name, BlobHash: f.Hash.String(), Size: f.Size})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// BlobContent reads a blob from the object store.
func (r *Repo) BlobContent(blobHash string) ([]byte, error) {
	blob, err := r.repo.BlobObject(plumbing.NewHash(blobHash))
	if err != nil {
		return nil, fmt.Errorf("blob %s not found: %w", blobHash, err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rd.Close() }()
	return io.ReadAll(rd)
}

// ReachableSet returns every commit hash reachable from head.
func (r *Repo) ReachableSet(head string) (map[string]bool, error) {
	commits, err := r.CommitsChronological(head, nil)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(commits))
	for _, c := range commits {
		set[c.Hash] = true
	}
	return set, nil
}

// CommitTreePaths returns the set of file paths in a commit's tree, used
// by at_commit query filtering.
func (r *Repo) CommitTreePaths(hash string) (map[string]bool, error) {
	refs, err := r.CommitBlobs(hash)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]bool, len(refs))
	for _, ref := range refs {
		paths[ref.Path] = true
	}
	return paths, nil
}

// CommitTreeBlobs returns the set of blob hashes in a commit's tree.
func (r *Repo) CommitTreeBlobs(hash string) (map[string]bool, error) {
	refs, err := r.CommitBlobs(hash)
	if err != nil {
		return nil, err
	}
	blobs := make(map[string]bool, len(refs))
	for _, ref := range refs {
		blobs[ref.BlobHash] = true
	}
	return blobs, nil
}

func commitInfo(c *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:        c.Hash.String(),
		Date:        c.Committer.When.UTC(),
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Message:     c.Message,
	}
}
