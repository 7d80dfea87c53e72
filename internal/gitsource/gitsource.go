// Package gitsource keeps local checkouts of remote grammar repositories.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Sync makes localPath a current checkout of the repository at url, cloning
// it on first use and pulling afterwards. It returns the checked-out HEAD
// revision.
func Sync(ctx context.Context, url, localPath string, log *slog.Logger) (string, error) {
	if log == nil {
		log = slog.Default()
	}

	var repo *git.Repository
	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("Cloning grammar repository", "url", url, "path", localPath)
		repo, err = git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: url})
		if err != nil {
			return "", fmt.Errorf("failed to clone repo %s: %w", url, err)
		}

	case err == nil:
		repo, err = git.PlainOpen(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: git.DefaultRemoteName})
		switch {
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			log.Debug("Grammar repository already up to date", "path", localPath)
		case err != nil:
			return "", fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}

	default:
		return "", fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD of %s: %w", localPath, err)
	}
	rev := head.Hash().String()
	log.Info("Grammar repository synced", "url", url, "revision", rev)
	return rev, nil
}
