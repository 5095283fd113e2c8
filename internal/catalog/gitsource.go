package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// IsGitURL reports whether a source path names a git remote rather than a
// local directory.
func IsGitURL(path string) bool {
	return strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") || strings.HasPrefix(path, "https://")
}

// SyncGit clones a git repository if it doesn't exist at localPath, or pulls
// the latest changes if it does.
func SyncGit(ctx context.Context, logger *slog.Logger, remote, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("cloning repository", "url", remote, "path", localPath)
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: remote})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", remote, err)
		}
	case err == nil:
		logger.Info("pulling repository", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}
	return nil
}

// CheckoutPath maps a git URL to a directory under baseDir, e.g.
// https://github.com/a/b.git and git@github.com:a/b.git both become
// baseDir/github.com/a/b. URLs whose path would leave baseDir are rejected.
func CheckoutPath(baseDir, remote string) (string, error) {
	parsed, err := url.Parse(remote)
	if err == nil && (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != "" {
		return checkoutDir(baseDir, remote, parsed.Host, parsed.Path)
	}

	hostPart, repoPath, ok := strings.Cut(remote, ":")
	if ok {
		if _, host, ok := strings.Cut(hostPart, "@"); ok && host != "" && repoPath != "" {
			return checkoutDir(baseDir, remote, host, repoPath)
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", remote)
}

func checkoutDir(baseDir, remote, host, repoPath string) (string, error) {
	repoPath = strings.TrimSuffix(repoPath, ".git")
	for _, seg := range strings.FieldsFunc(host+"/"+repoPath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", fmt.Errorf("git URL %s escapes the checkout directory", remote)
		}
	}
	dir := filepath.Join(baseDir, host, repoPath)
	rel, err := filepath.Rel(baseDir, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("git URL %s escapes the checkout directory", remote)
	}
	return dir, nil
}
