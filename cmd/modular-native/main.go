// Command modular-native builds the host as a loadable library:
//
//	go build -buildmode=plugin -o libmodular.so ./cmd/modular-native
//
// Consumers resolve the ModularVTable entry point with library.Resolve.
package main

import (
	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/native"
)

// ModularVTable is the library entry point.
func ModularVTable() *abi.HostVTable {
	return native.VTable()
}

func main() {}
