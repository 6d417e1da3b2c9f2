// Package ledger keeps an append-only history of golden-record
// publications. Each workspace owns a git repository on disk; every
// publication commits the record and tags it publish-N, so any past
// golden record can be recovered by tag.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const recordFile = "golden-record.json"

// Entry describes one publication commit.
type Entry struct {
	Hash        string    `json:"hash"`
	Tag         string    `json:"tag,omitempty"`
	Message     string    `json:"message"`
	PublishedBy string    `json:"publishedBy"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Service manages per-workspace publication repositories. Repositories
// are created lazily on first publish.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordPublish writes the golden record into the workspace's ledger repo,
// commits it, and tags the commit publish-<sequence>. The record is any
// JSON-marshalable payload; it lands pretty-printed so diffs between
// publications stay readable.
func (s *Service) RecordPublish(workspaceID string, record any, actor string, sequence int) (Entry, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(workspaceID)
	if err != nil {
		return Entry{}, err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal golden record: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, recordFile), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write golden record: %w", err)
	}
	if _, err := worktree.Add(recordFile); err != nil {
		return Entry{}, fmt.Errorf("git add golden record: %w", err)
	}

	message := fmt.Sprintf("Publish golden record #%d", sequence)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		// Republishing an unchanged record is still a publication event.
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  actor,
			Email: fmt.Sprintf("%s@local.dealgraph.dev", sanitizeEmail(actor)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit golden record: %w", err)
	}

	tag := fmt.Sprintf("publish-%d", sequence)
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "dealgraph",
			Email: "dealgraph@localhost",
			When:  time.Now(),
		},
		Message: tag,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Entry{}, fmt.Errorf("tag publication: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read publication commit: %w", err)
	}
	e := toEntry(commitObj)
	e.Tag = tag
	return e, nil
}

// RecordByTag fetches the golden record published under the given tag.
func (s *Service) RecordByTag(workspaceID, tag string) ([]byte, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("open ledger repo: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(tag))
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit for tag %s: %w", tag, err)
	}

	file, err := commitObj.File(recordFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", recordFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open record reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// History lists publications newest first.
func (s *Service) History(workspaceID string, limit int) ([]Entry, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open ledger repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Entry{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read ledger log: %w", err)
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		entries = append(entries, toEntry(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate ledger log: %w", err)
	}
	return entries, nil
}

func (s *Service) ensureRepo(workspaceID string) (*git.Repository, error) {
	path := s.repoPath(workspaceID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open ledger repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init ledger repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(workspaceID string) string {
	return filepath.Join(s.baseDir, workspaceID)
}

func (s *Service) workspaceLock(workspaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workspaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[workspaceID] = lock
	return lock
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:        commitObj.Hash.String()[:7],
		Message:     commitObj.Message,
		PublishedBy: commitObj.Author.Name,
		PublishedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
