package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
)

// Registrar receives the modules produced by a Loader. *host.Host satisfies
// it.
type Registrar interface {
	RegisterOrReplaceModule(name string, h module.Handler)
	DeregisterModule(name string)
}

// Loader keeps a directory of scripts registered as modules.
type Loader struct {
	fs      afero.Fs
	dir     string
	reg     Registrar
	engine  *TengoEngine
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	scripts map[string]*Script // path -> last loaded script
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMetrics records reload outcomes.
func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

// WithEngine overrides the default engine.
func WithEngine(e *TengoEngine) LoaderOption {
	return func(l *Loader) {
		l.engine = e
	}
}

// NewLoader creates a loader for the scripts below dir on fsys.
func NewLoader(fsys afero.Fs, dir string, reg Registrar, opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:      fsys,
		dir:     filepath.Clean(dir),
		reg:     reg,
		logger:  slog.Default(),
		scripts: make(map[string]*Script),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.engine == nil {
		l.engine = NewTengoEngine(GetDefaultSecurityLimits(), l.logger)
	}
	return l
}

// ModuleName derives a module name from a script path below dir.
func ModuleName(dir, path string) (string, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", NewScriptError(ErrorTypeInvalidPath, "", path, "path is not below the scripts directory", err)
	}
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", NewScriptError(ErrorTypeInvalidPath, "", path, "path is not below the scripts directory", nil)
	}
	if filepath.Ext(rel) != Extension {
		return "", NewScriptError(ErrorTypeInvalidPath, "", path, "not a script file", nil)
	}

	parts := strings.Split(strings.TrimSuffix(rel, Extension), string(filepath.Separator))
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, ".\\{}>") {
			return "", NewScriptError(ErrorTypeInvalidPath, "", path,
				fmt.Sprintf("invalid name segment %q", p), nil)
		}
	}
	return strings.Join(parts, "."), nil
}

// LoadAll loads every script below the directory. A script that fails to
// load is logged and skipped. A missing directory loads nothing.
func (l *Loader) LoadAll() (int, error) {
	if ok, err := afero.DirExists(l.fs, l.dir); err != nil {
		return 0, fmt.Errorf("failed to stat scripts directory: %w", err)
	} else if !ok {
		l.logger.Info("Scripts directory does not exist, skipping", "path", l.dir)
		return 0, nil
	}

	loaded := 0
	err := afero.Walk(l.fs, l.dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != Extension {
			return nil
		}
		if err := l.Load(path); err != nil {
			l.logger.Error("Failed to load script", "path", path, "error", err)
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("failed to walk scripts directory: %w", err)
	}

	l.logger.Info("Loaded scripts", "count", loaded, "path", l.dir)
	return loaded, nil
}

// Load compiles the script at path and registers it, replacing any module of
// the same name. Unchanged content is not recompiled.
func (l *Loader) Load(path string) error {
	name, err := ModuleName(l.dir, path)
	if err != nil {
		return err
	}

	info, err := l.fs.Stat(path)
	if err != nil {
		return NewScriptError(ErrorTypeInvalidPath, name, path, "failed to stat script", err)
	}
	content, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return NewScriptError(ErrorTypeInvalidPath, name, path, "failed to read script", err)
	}

	sum := sha256.Sum256(content)
	s := &Script{
		Module:       name,
		Path:         path,
		Content:      string(content),
		Checksum:     hex.EncodeToString(sum[:]),
		LastModified: info.ModTime(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.scripts[path]; ok && prev.Checksum == s.Checksum {
		l.metrics.ObserveScriptReload("unchanged")
		return nil
	}

	prog, err := l.engine.Compile(s)
	if err != nil {
		l.metrics.ObserveScriptReload("error")
		return err
	}

	l.reg.RegisterOrReplaceModule(name, prog)
	l.scripts[path] = s
	l.metrics.ObserveScriptReload("loaded")
	l.logger.Info("Script module registered", "module", name, "path", path)
	return nil
}

// Unload deregisters the module loaded from path, if any.
func (l *Loader) Unload(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.scripts[path]
	if !ok {
		return false
	}
	delete(l.scripts, path)
	l.reg.DeregisterModule(s.Module)
	l.metrics.ObserveScriptReload("removed")
	l.logger.Info("Script module removed", "module", s.Module, "path", path)
	return true
}

// Modules returns the names of the loaded script modules, sorted.
func (l *Loader) Modules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.scripts))
	for _, s := range l.scripts {
		names = append(names, s.Module)
	}
	sort.Strings(names)
	return names
}

// UnloadAll deregisters every loaded script module.
func (l *Loader) UnloadAll() {
	l.mu.Lock()
	paths := make([]string, 0, len(l.scripts))
	for p := range l.scripts {
		paths = append(paths, p)
	}
	l.mu.Unlock()

	for _, p := range paths {
		l.Unload(p)
	}
}
