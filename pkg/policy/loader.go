package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// reloadDelay collapses bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads admission policies from Rego files, JSON or YAML policy
// definitions and policy bundles. Parsed files are cached until they change
// on disk.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	cache   map[string]cacheEntry
	watcher *fsnotify.Watcher
}

type cacheEntry struct {
	policy  *Policy
	modTime time.Time
	size    int64
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cacheEntry),
	}
}

func isPolicyFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadError(path, msg string, err error) *engine.EngineError {
	return engine.NewPermanentError(msg, err).
		WithCode(engine.ErrCodeConfiguration).
		WithResource(path).
		WithOperation("load-policy")
}

// LoadFromPaths loads policies from files and directories. A missing path or
// an unreadable file named directly fails the whole load; broken files found
// while walking a directory are skipped with a warning.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, loadError(path, "policy path is not readable", err)
		}

		if !info.IsDir() {
			p, err := l.loadFromFile(ctx, path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		found, err := l.loadFromDirectory(ctx, path)
		if err != nil {
			return nil, err
		}
		policies = append(policies, found...)
	}

	l.logger.Info().
		Int("total", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return policies, nil
}

func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, loadError(dir, "failed to walk policy directory", err)
	}

	return policies, nil
}

// loadFromFile returns the cached policy for path unless the file changed
// since it was parsed.
func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, loadError(path, "policy file is not readable", err)
	}

	l.mu.Lock()
	entry, ok := l.cache[path]
	l.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadError(path, "policy file is not readable", err)
	}

	var p *Policy
	if strings.EqualFold(filepath.Ext(path), ".rego") {
		p = regoPolicy(path, data)
	} else if p, err = definitionPolicy(path, data); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = cacheEntry{policy: p, modTime: info.ModTime(), size: info.Size()}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Str("severity", string(p.Severity)).
		Msg("Policy loaded from file")

	return p, nil
}

// regoPolicy names the policy after its file. Leading comments become the
// description, except "# severity:" and "# tags:" lines which set those
// fields.
func regoPolicy(path string, data []byte) *Policy {
	header := parseHeader(string(data))
	now := time.Now()

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Description: header.description,
		Rego:        string(data),
		Severity:    header.severity,
		Enabled:     true,
		Tags:        header.tags,
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return p
}

// definitionPolicy parses a JSON or YAML policy definition.
func definitionPolicy(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := decodeDocument(path, data, &p); err != nil {
		return nil, loadError(path, "invalid policy definition", err)
	}
	if p.Name == "" {
		return nil, loadError(path, "policy definition has no name", nil)
	}
	if strings.TrimSpace(p.Rego) == "" {
		return nil, loadError(path, "policy definition has no rego", nil)
	}

	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return &p, nil
}

// decodeDocument decodes JSON, or YAML converted to JSON so both formats
// share the json field names of the policy types.
func decodeDocument(path string, data []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		data = converted
	case ".json":
	default:
		return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	return json.Unmarshal(data, v)
}

type regoHeader struct {
	description string
	severity    Severity
	tags        []string
}

// parseHeader reads the comment block at the top of a Rego file.
func parseHeader(content string) regoHeader {
	var h regoHeader
	var lines []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && len(lines) > 0 {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		key, value, found := strings.Cut(comment, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		switch {
		case found && key == "severity":
			h.severity = Severity(strings.ToLower(strings.TrimSpace(value)))
		case found && key == "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
		case comment != "":
			lines = append(lines, comment)
		}
	}

	h.description = strings.Join(lines, " ")
	return h
}

// LoadBundle loads a JSON or YAML policy bundle. Policy names must be unique
// within the bundle and every policy needs Rego source.
func (l *Loader) LoadBundle(_ context.Context, path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadError(path, "policy bundle is not readable", err)
	}

	var bundle PolicyBundle
	if err := decodeDocument(path, data, &bundle); err != nil {
		return nil, loadError(path, "invalid policy bundle", err)
	}

	seen := make(map[string]bool, len(bundle.Policies))
	for i := range bundle.Policies {
		p := &bundle.Policies[i]
		switch {
		case p.Name == "":
			return nil, loadError(path, fmt.Sprintf("bundle policy %d has no name", i), nil)
		case seen[p.Name]:
			return nil, loadError(path, "duplicate policy in bundle: "+p.Name, nil)
		case strings.TrimSpace(p.Rego) == "":
			return nil, loadError(path, "bundle policy has no rego: "+p.Name, nil)
		}
		seen[p.Name] = true

		if p.Severity == "" {
			p.Severity = SeverityError
		}
		if p.Metadata == nil {
			p.Metadata = map[string]interface{}{}
		}
		p.Metadata["bundle"] = bundle.Name
		if bundle.Version != "" {
			p.Metadata["bundle_version"] = bundle.Version
		}
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")

	return &bundle, nil
}

// Watch reloads paths whenever a policy file under them changes and hands
// the full set to reloadFn, so deleted files drop out of the result.
// Directories created later are watched too.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func(context.Context, []Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := addTree(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch policy path")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watch(ctx, watcher, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching policy paths")

	return nil
}

// addTree watches path, and every directory below it when path is one.
func addTree(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(p)
	})
}

func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func(context.Context, []Policy) error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func(context.Context, []Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := reloadFn(ctx, policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().
		Int("count", len(policies)).
		Msg("Policies reloaded")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// ClearCache drops every parsed policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cacheEntry)
}
