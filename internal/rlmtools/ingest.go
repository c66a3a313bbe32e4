package rlmtools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/pkg/models"
)

// ConfirmAboveMatches asks the user before ingesting larger path sets.
const ConfirmAboveMatches = 10

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 512

// ingestParams are the rlm_ingest arguments.
type ingestParams struct {
	Paths []string `json:"paths" jsonschema:"description=Files or glob patterns relative to the working directory,minItems=1"`
}

// IngestTool reads files into the store as retrievable objects.
type IngestTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewIngestTool builds the tool.
func NewIngestTool(d *Deps) *IngestTool {
	return &IngestTool{deps: d, schema: schemaFor(&ingestParams{})}
}

func (t *IngestTool) Name() string  { return "rlm_ingest" }
func (t *IngestTool) Label() string { return "Ingest" }
func (t *IngestTool) Description() string {
	return "Ingest files into the external store so they can be peeked, searched, and queried without occupying working context."
}
func (t *IngestTool) Schema() json.RawMessage { return t.schema }

func (t *IngestTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		if err := validateParams(t.schema, params); err != nil {
			return nil, err
		}
		var p ingestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		matches, err := resolvePaths(hctx.Cwd(), p.Paths)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return host.TextResult("No files matched."), nil
		}
		if len(matches) > t.deps.Cfg.MaxIngestFiles {
			return host.ErrorResult(fmt.Sprintf("refusing to ingest %d files (maxIngestFiles = %d); narrow the pattern",
				len(matches), t.deps.Cfg.MaxIngestFiles)), nil
		}
		if len(matches) > ConfirmAboveMatches && hctx.HasUI() {
			prompt := fmt.Sprintf("Ingest %d files into the RLM store?", len(matches))
			if !hctx.Confirm(ctx, prompt, true) {
				return host.TextResult("Ingest cancelled."), nil
			}
		}

		var ingested, skipped int
		var totalBytes int64
		var lines []string
		for _, path := range matches {
			if totalBytes >= t.deps.Cfg.MaxIngestBytes {
				lines = append(lines, fmt.Sprintf("stopped at byte cap (%d bytes)", t.deps.Cfg.MaxIngestBytes))
				break
			}
			rec, reason := t.ingestOne(hctx.Cwd(), path)
			if rec == nil {
				skipped++
				if reason != "" {
					lines = append(lines, fmt.Sprintf("skipped %s: %s", path, reason))
				}
				continue
			}
			ingested++
			totalBytes += int64(len(rec.Content))
			lines = append(lines, fmt.Sprintf("%s → %s (%d tokens)", rec.Description, rec.ID, rec.TokenEstimate))
			if t.deps.Metrics != nil {
				t.deps.Metrics.RecordsIngested.Inc()
			}
		}

		t.deps.Warm.MarkToolCallWarm(toolCallID)
		t.deps.emit("rlm:ingest", map[string]any{"count": ingested, "bytes": totalBytes})

		summary := fmt.Sprintf("Ingested %d file(s), skipped %d.\n%s", ingested, skipped, strings.Join(lines, "\n"))
		return host.TextResult(summary), nil
	})
}

// ingestOne reads and stores a single file; a nil record plus reason means
// the file was skipped.
func (t *IngestTool) ingestOne(cwd, path string) (*models.Record, string) {
	if existing, ok := t.deps.Store.FindByIngestPath(path); ok {
		return nil, fmt.Sprintf("already ingested as %s", existing.ID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("ingest: unreadable file", "path", path, "error", err)
		return nil, "unreadable"
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, "binary"
	}

	rel, err := filepath.Rel(cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	content := string(data)
	rec, err := t.deps.Store.Add(models.Record{
		Type:          models.ContentFile,
		Description:   rel,
		TokenEstimate: (len(content) + 3) / 4,
		Source:        models.RecordSource{Kind: models.SourceIngested, Path: path},
		Content:       content,
	})
	if err != nil {
		return nil, err.Error()
	}
	return rec, ""
}

// resolvePaths expands globs relative to cwd, filters excluded directories,
// and returns absolute regular-file paths, sorted and deduplicated.
func resolvePaths(cwd string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		abs := pattern
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(cwd, pattern)
		}
		expanded, err := filepath.Glob(abs)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		if expanded == nil {
			// Not a glob match; keep the literal path if it exists.
			if _, statErr := os.Stat(abs); statErr == nil {
				expanded = []string{abs}
			}
		}
		for _, p := range expanded {
			if excludedPath(p) || seen[p] {
				continue
			}
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// excludedPath drops dependency and VCS internals.
func excludedPath(p string) bool {
	slashed := filepath.ToSlash(p)
	return strings.Contains(slashed, "/node_modules/") || strings.Contains(slashed, "/.git/")
}
