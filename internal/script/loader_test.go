package script

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
)

type fakeRegistrar struct {
	mu            sync.Mutex
	modules       map[string]module.Handler
	registrations map[string]int
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		modules:       make(map[string]module.Handler),
		registrations: make(map[string]int),
	}
}

func (f *fakeRegistrar) RegisterOrReplaceModule(name string, h module.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[name] = h
	f.registrations[name]++
}

func (f *fakeRegistrar) DeregisterModule(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.modules, name)
}

func (f *fakeRegistrar) get(name string) (module.Handler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.modules[name]
	return h, ok
}

func (f *fakeRegistrar) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registrations[name]
}

func invoke(t *testing.T, h module.Handler, action string) string {
	t.Helper()
	resp, err := h.Handle(context.Background(), module.Request{Action: action})
	require.NoError(t, err)
	return string(resp.Data)
}

func TestModuleName(t *testing.T) {
	dir := filepath.FromSlash("/scripts")

	valid := map[string]string{
		"/scripts/echo.tengo":          "echo",
		"/scripts/math/add.tengo":      "math.add",
		"/scripts/a/b/c/handler.tengo": "a.b.c.handler",
	}
	for path, want := range valid {
		got, err := ModuleName(dir, filepath.FromSlash(path))
		require.NoError(t, err, path)
		assert.Equal(t, want, got)
	}

	invalid := []string{
		"/other/echo.tengo",
		"/scripts/echo.txt",
		"/scripts/a.b.tengo",
		"/scripts/{x}/y.tengo",
	}
	for _, path := range invalid {
		_, err := ModuleName(dir, filepath.FromSlash(path))
		var serr *ScriptError
		require.ErrorAs(t, err, &serr, path)
		assert.Equal(t, ErrorTypeInvalidPath, serr.Type)
	}
}

func TestLoader_LoadAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/scripts/echo.tengo", []byte(`result = action`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/scripts/math/add.tengo", []byte(`result = 1 + 2`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/scripts/broken.tengo", []byte(`result = `), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/scripts/README.md", []byte(`docs`), 0o644))

	reg := newFakeRegistrar()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	loader := NewLoader(fs, "/scripts", reg, WithMetrics(m))
	n, err := loader.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"echo", "math.add"}, loader.Modules())

	h, ok := reg.get("echo")
	require.True(t, ok)
	assert.Equal(t, "ping", invoke(t, h, "ping"))

	h, ok = reg.get("math.add")
	require.True(t, ok)
	assert.Equal(t, "3", invoke(t, h, "any"))

	_, ok = reg.get("broken")
	assert.False(t, ok)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScriptReloads.WithLabelValues("loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScriptReloads.WithLabelValues("error")))
}

func TestLoader_MissingDirectory(t *testing.T) {
	loader := NewLoader(afero.NewMemMapFs(), "/nowhere", newFakeRegistrar())
	n, err := loader.LoadAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoader_Reload(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/scripts/echo.tengo"
	require.NoError(t, afero.WriteFile(fs, path, []byte(`result = "v1"`), 0o644))

	reg := newFakeRegistrar()
	loader := NewLoader(fs, "/scripts", reg)

	require.NoError(t, loader.Load(path))
	require.NoError(t, loader.Load(path))
	assert.Equal(t, 1, reg.count("echo"), "unchanged content is not re-registered")

	require.NoError(t, afero.WriteFile(fs, path, []byte(`result = "v2"`), 0o644))
	require.NoError(t, loader.Load(path))
	assert.Equal(t, 2, reg.count("echo"))

	h, _ := reg.get("echo")
	assert.Equal(t, "v2", invoke(t, h, "x"))

	t.Run("broken update keeps the previous module", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, path, []byte(`result = `), 0o644))
		assert.Error(t, loader.Load(path))

		h, ok := reg.get("echo")
		require.True(t, ok)
		assert.Equal(t, "v2", invoke(t, h, "x"))
	})

	t.Run("unload", func(t *testing.T) {
		assert.True(t, loader.Unload(path))
		assert.False(t, loader.Unload(path))
		_, ok := reg.get("echo")
		assert.False(t, ok)
		assert.Empty(t, loader.Modules())
	})
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.tengo"), []byte(`result = "one"`), 0o644))

	reg := newFakeRegistrar()
	loader := NewLoader(afero.NewOsFs(), dir, reg)
	_, err := loader.LoadAll()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give watcher time to initialize
	time.Sleep(100 * time.Millisecond)

	second := filepath.Join(dir, "second.tengo")
	require.NoError(t, os.WriteFile(second, []byte(`result = "two"`), 0o644))
	require.Eventually(t, func() bool {
		_, ok := reg.get("second")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.tengo"), []byte(`result = "uno"`), 0o644))
	require.Eventually(t, func() bool {
		h, ok := reg.get("first")
		if !ok {
			return false
		}
		resp, err := h.Handle(context.Background(), module.Request{})
		return err == nil && string(resp.Data) == "uno"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(second))
	require.Eventually(t, func() bool {
		_, ok := reg.get("second")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
