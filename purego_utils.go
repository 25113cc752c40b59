//go:build (darwin || linux) && !cgo

// Shared plumbing for the purego-loaded codec wrappers: C string conversion
// for the wrappers' get_error() calls, and module-root discovery for the
// build/ library search paths.

package webcodecs

import (
	"os"
	"path/filepath"
	"unsafe"
)

// cErrorStringMax bounds goStringFromPtr's scan: the wrapper libraries'
// error buffers are all well under this.
const cErrorStringMax = 1024

// goStringFromPtr copies a NUL-terminated C string into a Go string. Every
// *_purego.go file uses it to read its library's error message pointer.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	length := 0
	for length < cErrorStringMax && *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) != 0 {
		length++
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod, so the library loaders can probe build/ and build/ffi/
// during development without an env var.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
