// Package migrate moves cache archives between machines as JSONL
// files: one record per line, one file per entity kind. An export
// never touches the provider, so a teammate can seed a fresh cache
// from a shared export and browse offline immediately.
package migrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/perch-review/perch/internal/cache"
)

// File names inside an export directory.
const (
	PullsFile  = "pulls.jsonl"
	IssuesFile = "issues.jsonl"
	LabelsFile = "labels.jsonl"
)

// Options contains configuration for an export or import run.
type Options struct {
	Dir    string // Directory holding the JSONL files
	DryRun bool   // Preview without writing
	Backup bool   // Back up files that would be overwritten
}

// Result contains statistics about one run.
type Result struct {
	Pulls          int
	Issues         int
	Labels         int
	FilesWritten   int
	BackupsCreated []string
	Errors         []string
}

// Total returns the number of records the run covered.
func (r *Result) Total() int {
	return r.Pulls + r.Issues + r.Labels
}

// ExportStore writes every archived record of one store to a JSONL
// file, ordered by scope and key. In dry-run mode the records are
// counted but nothing is written.
func ExportStore[E cache.Entity](store *cache.Store[E], path string, dryRun bool) (int, error) {
	count := 0
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, scope := range store.Scopes() {
		for _, rec := range store.ScopeRecords(scope) {
			if err := encoder.Encode(rec); err != nil {
				return count, fmt.Errorf("failed to encode record: %w", err)
			}
			count++
		}
	}
	if dryRun {
		return count, nil
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return count, err
	}
	return count, nil
}

// ImportStore reads a JSONL file into the store, merging each record
// over any cached one so local fields survive re-imports. A missing
// file imports nothing.
func ImportStore[E cache.Entity](store *cache.Store[E], path string, dryRun bool) (int, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	count := 0
	decoder := json.NewDecoder(file)
	for {
		var rec E
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, fmt.Errorf("invalid JSON at record %d in %s: %w", count+1, filepath.Base(path), err)
		}
		count++
		if !dryRun {
			store.Mutate(rec)
		}
	}
	return count, nil
}

// Export writes all three archives as JSONL files under opts.Dir.
func Export(pulls *cache.Store[cache.PullRequest], issues *cache.Store[cache.Issue], labels *cache.Store[cache.Label], opts Options) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("export directory cannot be empty")
	}
	result := &Result{}

	if !opts.DryRun {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	// Back up existing exports before overwriting
	if opts.Backup && !opts.DryRun {
		for _, name := range []string{PullsFile, IssuesFile, LabelsFile} {
			backup, err := backupFile(filepath.Join(opts.Dir, name))
			if err != nil {
				return nil, err
			}
			if backup != "" {
				result.BackupsCreated = append(result.BackupsCreated, backup)
			}
		}
	}

	var err error
	if result.Pulls, err = ExportStore(pulls, filepath.Join(opts.Dir, PullsFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to export pulls: %v", err))
	} else if !opts.DryRun {
		result.FilesWritten++
	}
	if result.Issues, err = ExportStore(issues, filepath.Join(opts.Dir, IssuesFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to export issues: %v", err))
	} else if !opts.DryRun {
		result.FilesWritten++
	}
	if result.Labels, err = ExportStore(labels, filepath.Join(opts.Dir, LabelsFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to export labels: %v", err))
	} else if !opts.DryRun {
		result.FilesWritten++
	}

	return result, nil
}

// Import reads the JSONL files under opts.Dir into the stores. Each
// kind is imported independently; a broken file is reported in Errors
// and the others still land.
func Import(pulls *cache.Store[cache.PullRequest], issues *cache.Store[cache.Issue], labels *cache.Store[cache.Label], opts Options) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("import directory cannot be empty")
	}
	if _, err := os.Stat(opts.Dir); err != nil {
		return nil, fmt.Errorf("import directory does not exist: %w", err)
	}
	result := &Result{}

	var err error
	if result.Pulls, err = ImportStore(pulls, filepath.Join(opts.Dir, PullsFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to import pulls: %v", err))
	}
	if result.Issues, err = ImportStore(issues, filepath.Join(opts.Dir, IssuesFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to import issues: %v", err))
	}
	if result.Labels, err = ImportStore(labels, filepath.Join(opts.Dir, LabelsFile), opts.DryRun); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to import labels: %v", err))
	}

	return result, nil
}

// backupFile copies path aside with a timestamp suffix. A missing file
// needs no backup.
func backupFile(path string) (string, error) {
	input, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s for backup: %w", path, err)
	}
	backupPath := path + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}

// writeAtomic writes data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
