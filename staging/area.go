// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/kbsync/core"
)

const (
	IntakeDir   = "intake"
	PreparedDir = "prepared"
	ArchiveDir  = "archive"
)

// Area is a staging directory with intake, prepared and archive subdirectories.
// Area is safe for use by a single pipeline run at a time.
type Area struct {
	root     string
	intake   string
	prepared string
	archive  string
	logger   *slog.Logger
}

// Option configures an Area.
type Option func(*Area)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Area) {
		a.logger = logger
	}
}

// Open creates the staging layout under root if needed.
func Open(root string, opts ...Option) (*Area, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: staging root is required", core.ErrValidation)
	}
	a := &Area{
		root:     root,
		intake:   filepath.Join(root, IntakeDir),
		prepared: filepath.Join(root, PreparedDir),
		archive:  filepath.Join(root, ArchiveDir),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "staging")

	for _, dir := range []string{a.intake, a.prepared, a.archive} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return a, nil
}

func (a *Area) Root() string { return a.root }

// IntakePath returns the absolute intake path of a relative document path.
func (a *Area) IntakePath(relPath string) string {
	return filepath.Join(a.intake, filepath.FromSlash(relPath))
}

// ArchivePath returns the absolute archive path of a relative document path.
func (a *Area) ArchivePath(relPath string) string {
	return filepath.Join(a.archive, filepath.FromSlash(relPath))
}

// Source is a document read from intake. Err is set for documents that
// cannot be prepared, such as files that are not valid UTF-8.
type Source struct {
	Document core.Document
	Text     string
	Err      error
}

// Scan reads every document in intake, ordered by relative path. Hidden files
// and directories are skipped.
func (a *Area) Scan(ctx context.Context) ([]Source, error) {
	var sources []Source
	err := filepath.WalkDir(a.intake, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p != a.intake && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(a.intake, p)
		if err != nil {
			return err
		}
		sources = append(sources, a.readSource(p, filepath.ToSlash(rel), d))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan intake: %w", err)
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Document.OriginPath < sources[j].Document.OriginPath
	})
	return sources, nil
}

func (a *Area) readSource(absPath, relPath string, d fs.DirEntry) Source {
	src := Source{Document: core.Document{
		ID:         core.DocumentIDFor(relPath),
		OriginPath: relPath,
	}}
	if info, err := d.Info(); err == nil {
		src.Document.ModifiedAt = info.ModTime().UTC()
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		src.Err = err
		return src
	}
	if !utf8.Valid(data) {
		src.Err = fmt.Errorf("%w: %s is not valid UTF-8 text", core.ErrValidation, relPath)
		return src
	}
	src.Text = string(data)
	src.Document.ContentHash = core.ContentHash(src.Text)
	return src
}

// Counts is a snapshot of the number of files in each area.
type Counts struct {
	Intake   int
	Prepared int
	Archived int
}

// Counts returns the number of documents and batches currently staged.
func (a *Area) Counts() (Counts, error) {
	var c Counts
	var err error
	if c.Intake, err = countFiles(a.intake); err != nil {
		return c, err
	}
	if c.Prepared, err = countFiles(a.prepared); err != nil {
		return c, err
	}
	if c.Archived, err = countFiles(a.archive); err != nil {
		return c, err
	}
	return c, nil
}

func countFiles(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n, err
}

// Promote moves a prepared document from intake to the archive and returns
// its archive path. contentHash must match the prepared version.
//
// Promote is idempotent: when the document is no longer in intake but the
// archive holds the same content, the existing archive path is returned.
// An archive file with different content is never overwritten; the document
// is archived next to it under a name carrying its content hash.
func (a *Area) Promote(relPath, contentHash string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return "", fmt.Errorf("%w: %q is not a relative intake path", core.ErrValidation, relPath)
	}
	src := a.IntakePath(relPath)
	dst := a.ArchivePath(relPath)

	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		for _, candidate := range []string{dst, hashedName(dst, contentHash)} {
			if fileHash(candidate) == contentHash {
				a.logger.Debug("document already archived", "path", relPath, "archive", candidate)
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, relPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	if core.ContentHash(string(data)) != contentHash {
		return "", fmt.Errorf("%w: %s", ErrContentChanged, relPath)
	}

	if existing := fileHash(dst); existing != "" {
		if existing == contentHash {
			if err := os.Remove(src); err != nil {
				return "", fmt.Errorf("failed to remove %s: %w", relPath, err)
			}
			return dst, nil
		}
		dst = hashedName(dst, contentHash)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", relPath, err)
	}
	a.removeEmptyParents(filepath.Dir(src))

	a.logger.Info("document promoted", "path", relPath, "archive", dst)
	return dst, nil
}

// removeEmptyParents prunes intake subdirectories left empty by a promotion.
func (a *Area) removeEmptyParents(dir string) {
	for dir != a.intake && strings.HasPrefix(dir, a.intake) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func hashedName(p, contentHash string) string {
	ext := filepath.Ext(p)
	suffix := contentHash
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return strings.TrimSuffix(p, ext) + "." + suffix + ext
}

// fileHash returns the content hash of the file at p, or "" if it can't be read.
func fileHash(p string) string {
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return core.ContentHash(string(data))
}
