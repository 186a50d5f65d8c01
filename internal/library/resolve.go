package library

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/nfrund/modular/internal/abi"
)

// resolved caches the entry point per library path for the process lifetime.
var resolved sync.Map // path -> func() (*abi.HostVTable, error)

// Resolve opens the library at path and returns its host table. The library
// is opened once per path; later calls, including failed ones, return the
// first result.
func Resolve(path string) (*abi.HostVTable, error) {
	v, _ := resolved.LoadOrStore(path, sync.OnceValues(func() (*abi.HostVTable, error) {
		return open(path)
	}))
	return v.(func() (*abi.HostVTable, error))()
}

func open(path string) (*abi.HostVTable, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open library %s: %w", path, err)
	}

	sym, err := p.Lookup(abi.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", path, err)
	}

	entry, ok := sym.(func() *abi.HostVTable)
	if !ok {
		return nil, fmt.Errorf("library %s: %s has type %T, want func() *abi.HostVTable", path, abi.EntryPoint, sym)
	}

	vt := entry()
	if vt == nil {
		return nil, fmt.Errorf("library %s: %s returned nil", path, abi.EntryPoint)
	}
	return vt, nil
}
