// Package indexer scans a project tree into a searchable JSON index.
package indexer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
)

// DefaultMaxFileSize skips files larger than 1MB.
const DefaultMaxFileSize = 1024 * 1024

const (
	previewChars = 500
	maxFunctions = 50
	maxImports   = 30
)

// Languages maps indexed file extensions to a language name.
var Languages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".jsx":  "javascript",
	".tsx":  "typescript",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".cpp":  "cpp",
	".h":    "c",
	".hpp":  "cpp",
	".rb":   "ruby",
	".php":  "php",
	".sh":   "shell",
	".md":   "markdown",
	".txt":  "text",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".xml":  "xml",
	".html": "html",
	".css":  "css",
}

var skipDirs = map[string]bool{
	".git": true, ".svn": true, "node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "env": true, "dist": true, "build": true,
	".pytest_cache": true, ".mypy_cache": true, ".tox": true, "htmlcov": true,
	".coverage": true,
}

var (
	functionPatterns = map[string]*regexp.Regexp{
		"python":     regexp.MustCompile(`(?:def|class)\s+(\w+)`),
		"javascript": regexp.MustCompile(`(?:function|const|let|var)\s+(\w+)\s*[=(]`),
		"typescript": regexp.MustCompile(`(?:function|const|let|var)\s+(\w+)\s*[=(]`),
		"go":         regexp.MustCompile(`func\s+(?:\(\w+\s+\*?\w+\)\s+)?(\w+)`),
		"java":       regexp.MustCompile(`(?:public|private|protected|static)?\s*\w+\s+(\w+)\s*\(`),
		"c":          regexp.MustCompile(`(?:public|private|protected|static)?\s*\w+\s+(\w+)\s*\(`),
		"cpp":        regexp.MustCompile(`(?:public|private|protected|static)?\s*\w+\s+(\w+)\s*\(`),
	}
	importPatterns = map[string]*regexp.Regexp{
		"python":     regexp.MustCompile(`(?:from\s+[\w.]+\s+)?import\s+[\w.,\s]+`),
		"javascript": regexp.MustCompile(`import\s+.+?from\s+['"][\w./]+['"]`),
		"typescript": regexp.MustCompile(`import\s+.+?from\s+['"][\w./]+['"]`),
		"go":         regexp.MustCompile(`import\s+(?:\([\s\S]*?\)|"[\w/]+")`),
		"java":       regexp.MustCompile(`import\s+[\w.]+;`),
	}
)

// FileEntry is one indexed file.
type FileEntry struct {
	Path           string   `json:"path"`
	RelativePath   string   `json:"relative_path"`
	Size           int      `json:"size"`
	Hash           string   `json:"hash"`
	Language       string   `json:"language"`
	Summary        string   `json:"summary,omitempty"`
	ContentPreview string   `json:"content_preview"`
	Functions      []string `json:"functions"`
	Imports        []string `json:"imports"`
}

// Index is the result of scanning one project.
type Index struct {
	ProjectName  string         `json:"project_name"`
	ProjectPath  string         `json:"project_path"`
	TotalFiles   int            `json:"total_files"`
	TotalSize    int64          `json:"total_size"`
	SkippedFiles int            `json:"skipped_files"`
	Languages    map[string]int `json:"languages"`
	IndexedAt    time.Time      `json:"indexed_at"`
	Files        []FileEntry    `json:"files"`
}

// Result is a file that matched a search, with its score.
type Result struct {
	FileEntry
	RelevanceScore int `json:"relevance_score"`
}

// Indexer builds, stores and searches project indexes.
type Indexer struct {
	path        string
	maxFileSize int64
	logger      *zap.Logger
}

// New creates an indexer that stores its index at path.
func New(path string, logger *zap.Logger) *Indexer {
	return &Indexer{path: path, maxFileSize: DefaultMaxFileSize, logger: logger}
}

// SetMaxFileSize overrides the size limit.
func (ix *Indexer) SetMaxFileSize(n int64) {
	if n > 0 {
		ix.maxFileSize = n
	}
}

// Path returns where the index is stored.
func (ix *Indexer) Path() string { return ix.path }

// IndexProject scans root. name defaults to the directory name.
func (ix *Indexer) IndexProject(root, name string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project path not found: %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", abs)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	ix.logger.Info("indexing project", zap.String("name", name), zap.String("path", abs))

	var candidates []string
	skipped := 0
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn("walk error", zap.String("path", p), zap.Error(err))
			skipped++
			return nil
		}
		if d.IsDir() {
			if p != abs && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := Languages[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			skipped++
			return nil
		}
		if fi.Size() > ix.maxFileSize {
			ix.logger.Debug("skipping large file", zap.String("path", p), zap.Int64("size", fi.Size()))
			skipped++
			return nil
		}
		candidates = append(candidates, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", abs, err)
	}

	entries := iter.Map(candidates, func(p *string) *FileEntry {
		e, err := indexFile(*p, abs)
		if err != nil {
			ix.logger.Warn("failed to index file", zap.String("path", *p), zap.Error(err))
			return nil
		}
		return e
	})

	idx := &Index{
		ProjectName: name,
		ProjectPath: abs,
		Languages:   map[string]int{},
		IndexedAt:   time.Now(),
	}
	for _, e := range entries {
		if e == nil {
			skipped++
			continue
		}
		idx.Files = append(idx.Files, *e)
		idx.TotalSize += int64(e.Size)
		idx.Languages[e.Language]++
	}
	idx.TotalFiles = len(idx.Files)
	idx.SkippedFiles = skipped

	ix.logger.Info("indexed project",
		zap.Int("files", idx.TotalFiles),
		zap.Int64("bytes", idx.TotalSize),
		zap.Int("skipped", skipped))
	return idx, nil
}

func indexFile(path, root string) (*FileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := strings.ToValidUTF8(string(data), "")
	sum := md5.Sum([]byte(content))
	lang := Languages[strings.ToLower(filepath.Ext(path))]
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}

	preview := content
	if len(preview) > previewChars {
		preview = preview[:previewChars] + "..."
	}
	return &FileEntry{
		Path:           path,
		RelativePath:   filepath.ToSlash(rel),
		Size:           len(content),
		Hash:           hex.EncodeToString(sum[:]),
		Language:       lang,
		ContentPreview: preview,
		Functions:      extractFunctions(content, lang),
		Imports:        extractImports(content, lang),
	}, nil
}

func extractFunctions(content, lang string) []string {
	re, ok := functionPatterns[lang]
	if !ok {
		return []string{}
	}
	names := []string{}
	for _, m := range re.FindAllStringSubmatch(content, maxFunctions) {
		names = append(names, m[1])
	}
	return names
}

func extractImports(content, lang string) []string {
	re, ok := importPatterns[lang]
	if !ok {
		return []string{}
	}
	found := re.FindAllString(content, maxImports)
	if found == nil {
		return []string{}
	}
	return found
}

// Save writes idx to the index file.
func (ix *Indexer) Save(idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.WriteFile(ix.path, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	ix.logger.Info("index saved", zap.String("path", ix.path))
	return nil
}

// Load reads the index file. A missing file returns (nil, nil).
func (ix *Indexer) Load() (*Index, error) {
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, os.ErrNotExist) {
		ix.logger.Warn("index file not found", zap.String("path", ix.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", ix.path, err)
	}
	return &idx, nil
}

// Search scores every file against query and returns the best maxResults.
// A path hit scores 10, a preview hit 5, each matching function 8 and each
// matching import 3.
func Search(idx *Index, query string, maxResults int) []Result {
	if idx == nil {
		return nil
	}
	q := strings.ToLower(query)
	var results []Result
	for _, f := range idx.Files {
		score := 0
		if strings.Contains(strings.ToLower(f.RelativePath), q) {
			score += 10
		}
		if strings.Contains(strings.ToLower(f.ContentPreview), q) {
			score += 5
		}
		for _, fn := range f.Functions {
			if strings.Contains(strings.ToLower(fn), q) {
				score += 8
			}
		}
		for _, imp := range f.Imports {
			if strings.Contains(strings.ToLower(imp), q) {
				score += 3
			}
		}
		if score > 0 {
			results = append(results, Result{FileEntry: f, RelevanceScore: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// Search runs a search against the stored index.
func (ix *Indexer) Search(query string, maxResults int) ([]Result, error) {
	idx, err := ix.Load()
	if err != nil {
		return nil, err
	}
	results := Search(idx, query, maxResults)
	ix.logger.Info("index search", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// ContextForChat formats the best matches for a chat prompt.
func (ix *Indexer) ContextForChat(query string, maxFiles, maxChars int) (string, error) {
	results, err := ix.Search(query, maxFiles)
	if err != nil || len(results) == 0 {
		return "", err
	}
	parts := make([]string, len(results))
	for i, r := range results {
		preview := r.ContentPreview
		if len(preview) > maxChars {
			preview = preview[:maxChars]
		}
		parts[i] = fmt.Sprintf("FILE: %s\n%s\n", r.RelativePath, preview)
	}
	return strings.Join(parts, "\n---\n"), nil
}
