// Package ingest reconciles grammar content sources with the database.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/fushigi/internal/gitsource"
	"github.com/conorfennell/fushigi/internal/grammarid"
	"github.com/conorfennell/fushigi/internal/parser"
	"github.com/conorfennell/fushigi/internal/storage"
)

// Syncer pulls grammar points from every configured source into storage.
type Syncer struct {
	db       *storage.DB
	reposDir string
	log      *slog.Logger
}

// Report summarizes one sync run.
type Report struct {
	Sources  int `json:"sources"`
	Parsed   int `json:"parsed"`
	Orphaned int `json:"orphaned"`
	Errors   int `json:"errors"`
}

// NewSyncer creates a Syncer that keeps git checkouts under reposDir.
func NewSyncer(db *storage.DB, reposDir string, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{db: db, reposDir: reposDir, log: log}
}

// SourceType classifies a source path as a git repository or a local directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// AddSource registers a new source and returns its ID.
func (s *Syncer) AddSource(ctx context.Context, path string) (int64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("source path cannot be empty")
	}
	sourceType := SourceType(path)
	id, err := s.db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return 0, err
	}
	s.log.Info("Source added", "id", id, "type", sourceType, "path", path)
	return id, nil
}

// RunSync iterates over all sources and reconciles them.
// A failing source is logged and counted; it does not stop the others.
func (s *Syncer) RunSync(ctx context.Context) (Report, error) {
	var report Report
	s.log.Info("Starting sync process for all sources...")
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		s.log.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return report, nil
	}

	if err := os.MkdirAll(s.reposDir, 0o755); err != nil {
		return report, fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.log.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)
		report.Sources++

		sourceToReconcile := source
		if source.Type == storage.SourceGit {
			localRepoPath, err := gitURLToLocalPath(s.reposDir, source.Path)
			if err != nil {
				s.log.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			if _, err := gitsource.Sync(ctx, source.Path, localRepoPath, s.log); err != nil {
				s.log.Error("Error syncing git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			sourceToReconcile.Path = localRepoPath
		}

		r, err := s.reconcileLocalSource(ctx, sourceToReconcile)
		if err != nil {
			s.log.Error("Error reconciling source", "id", source.ID, "error", err)
			report.Errors++
			continue
		}
		report.Parsed += r.Parsed
		report.Orphaned += r.Orphaned
		report.Errors += r.Errors
	}
	s.log.Info("Sync process complete.", "sources", report.Sources, "parsed", report.Parsed, "errors", report.Errors)
	return report, nil
}

func (s *Syncer) reconcileLocalSource(ctx context.Context, source storage.Source) (Report, error) {
	var report Report
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(source.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := parser.FormatOf(path); !ok {
			return nil
		}

		points, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			s.log.Warn("Failed to parse grammar file", "path", path, "error", parseErr)
			report.Errors++
			return nil
		}
		grammarid.Assign(points)
		for _, g := range points {
			report.Parsed++
			found[g.ID] = true
			if err := s.db.UpsertGrammar(ctx, g, source.ID); err != nil {
				s.log.Warn("Failed to store grammar point", "id", g.ID, "error", err)
				report.Errors++
			}
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("error walking directory %s: %w", source.Path, walkErr)
	}

	storedIDs, err := s.db.ListSourceGrammarIDs(ctx, source.ID)
	if err != nil {
		return report, err
	}
	for _, id := range storedIDs {
		if found[id] {
			continue
		}
		s.log.Info("Orphaned grammar point, detaching from source", "id", id)
		report.Orphaned++
		if err := s.db.DetachGrammarFromSource(ctx, id); err != nil {
			s.log.Warn("Failed to detach orphaned grammar point", "id", id, "error", err)
		}
	}

	if err := s.db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		s.log.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	s.log.Info("reconciliation complete",
		"path", source.Path,
		"parsed_grammar", report.Parsed,
		"orphaned_detached", report.Orphaned,
		"errors", report.Errors,
	)
	return report, nil
}

// gitURLToLocalPath maps a repository URL to its checkout directory under baseDir.
func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err == nil && (parsedURL.Scheme == "https" || parsedURL.Scheme == "http") {
		sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
		return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
	}

	// scp-like syntax: git@host:owner/repo.git
	if strings.Contains(repoURL, "@") {
		parts := strings.Split(repoURL, ":")
		if len(parts) == 2 {
			hostAndUser := strings.Split(parts[0], "@")
			if len(hostAndUser) == 2 {
				host := hostAndUser[1]
				repoPath := strings.TrimSuffix(parts[1], ".git")
				return filepath.Join(baseDir, host, repoPath), nil
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	// A repository on the local filesystem, e.g. /srv/content/grammar.git.
	if err == nil && parsedURL.Scheme == "" {
		name := strings.TrimSuffix(filepath.Base(repoURL), ".git")
		if name != "" && name != "." && name != string(filepath.Separator) {
			return filepath.Join(baseDir, "local", name), nil
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}
