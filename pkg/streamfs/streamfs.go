// Package streamfs is the public entry point: given a repository URL and a
// local directory, it mounts the repository as a lazily-materializing
// filesystem and installs the hooks that route application reads through
// it. It plays the role the teacher's top-level singularity package plays
// for its runtime launchers: a small, documented façade over the internal
// packages that do the real work.
package streamfs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dagshub/streamfs/internal/pkg/credential"
	"github.com/dagshub/streamfs/internal/pkg/hook"
	"github.com/dagshub/streamfs/internal/pkg/vfs"
)

// DefaultRevision is used when MountOptions.Revision is empty.
const DefaultRevision = "main"

// MountOptions configures a single call to Mount.
type MountOptions struct {
	// ProjectRoot is the local directory the remote repository is mounted
	// at. Created if it does not already exist.
	ProjectRoot string

	// RepoURL identifies the remote repository, e.g.
	// "https://dagshub.com/owner/repo" (a trailing ".git" is accepted).
	RepoURL string

	// Revision is a branch name, "HEAD", or a commit SHA. Defaults to
	// DefaultRevision.
	Revision string

	// Token, if set, is validated and added to the credential store as an
	// app token for this repository's host before resolving the revision.
	// It joins the host's cached tokens in the store's usual retrieval
	// order (priority, then insertion order), so an app token cached
	// earlier for the same host is still tried before it.
	Token string
}

// Mount resolves opts.Revision against the remote, registers a vfs.Mount
// for opts.ProjectRoot, and installs it with the hook package so that
// hook.Open/Stat/ReadDir/Chdir (and therefore anything built on top of
// them) transparently lazy-materialize files under ProjectRoot.
func Mount(ctx context.Context, opts MountOptions) (*vfs.Mount, error) {
	if opts.ProjectRoot == "" {
		return nil, fmt.Errorf("streamfs: ProjectRoot is required")
	}
	host, owner, repo, err := parseRepoURL(opts.RepoURL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.ProjectRoot, 0o755); err != nil {
		return nil, fmt.Errorf("streamfs: creating project root: %w", err)
	}

	creds := credential.Default()
	if opts.Token != "" {
		if err := creds.AddAppToken(ctx, opts.Token, host); err != nil {
			return nil, fmt.Errorf("streamfs: registering token: %w", err)
		}
	}

	revision := opts.Revision
	if revision == "" {
		revision = DefaultRevision
	}

	m, err := vfs.New(ctx, vfs.Options{
		Root:     opts.ProjectRoot,
		Host:     host,
		Owner:    owner,
		Repo:     repo,
		Revision: revision,
		Creds:    creds,
	})
	if err != nil {
		return nil, err
	}

	if err := hook.Install(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Unmount removes m's hooks, so paths under its root once again resolve
// through the plain local filesystem.
func Unmount(m *vfs.Mount) {
	hook.UninstallMount(m)
}

// parseRepoURL splits a DagsHub repository URL into host, owner, and repo
// name.
func parseRepoURL(raw string) (host, owner, repo string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("streamfs: invalid RepoURL %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("streamfs: RepoURL %q has no host", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("streamfs: RepoURL %q does not look like .../owner/repo", raw)
	}
	repo = strings.TrimSuffix(parts[1], ".git")
	return u.Host, parts[0], repo, nil
}
