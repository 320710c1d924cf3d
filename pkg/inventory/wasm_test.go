package inventory

import (
	"os"
	"path/filepath"
	"testing"
)

// buildStdoutModule assembles a WASI command module whose _start writes
// out to stdout with a single fd_write call.
//
// Memory layout: iovec at 0, nwritten at 8, payload at 16.
func buildStdoutModule(out string) []byte {
	section := func(id byte, content []byte) []byte {
		return append(append([]byte{id}, uleb(uint32(len(content)))...), content...)
	}
	name := func(s string) []byte {
		return append(uleb(uint32(len(s))), s...)
	}

	types := []byte{0x02,
		0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, // fd_write
		0x60, 0x00, 0x00, // _start
	}

	imports := []byte{0x01}
	imports = append(imports, name("wasi_snapshot_preview1")...)
	imports = append(imports, name("fd_write")...)
	imports = append(imports, 0x00, 0x00)

	funcs := []byte{0x01, 0x01}
	memory := []byte{0x01, 0x00, 0x01}

	exports := []byte{0x02}
	exports = append(exports, name("memory")...)
	exports = append(exports, 0x02, 0x00)
	exports = append(exports, name("_start")...)
	exports = append(exports, 0x00, 0x01)

	body := []byte{
		0x00,       // no locals
		0x41, 0x01, // fd stdout
		0x41, 0x00, // iovs
		0x41, 0x01, // iovs_len
		0x41, 0x08, // nwritten
		0x10, 0x00, // call fd_write
		0x1a, // drop errno
		0x0b,
	}
	code := append([]byte{0x01}, append(uleb(uint32(len(body))), body...)...)

	n := uint32(len(out))
	iovec := []byte{0x10, 0x00, 0x00, 0x00, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	data := []byte{0x02}
	data = append(data, 0x00, 0x41, 0x00, 0x0b)
	data = append(data, append(uleb(uint32(len(iovec))), iovec...)...)
	data = append(data, 0x00, 0x41, 0x10, 0x0b)
	data = append(data, append(uleb(n), out...)...)

	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	module = append(module, section(0x01, types)...)
	module = append(module, section(0x02, imports)...)
	module = append(module, section(0x03, funcs)...)
	module = append(module, section(0x05, memory)...)
	module = append(module, section(0x07, exports)...)
	module = append(module, section(0x0a, code)...)
	module = append(module, section(0x0b, data)...)
	return module
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// writePlugin writes a module printing out and returns its path.
func writePlugin(t *testing.T, dir, out string) string {
	t.Helper()
	path := filepath.Join(dir, "hosts.wasm")
	if err := os.WriteFile(path, buildStdoutModule(out), 0644); err != nil {
		t.Fatalf("failed to write plugin: %v", err)
	}
	return path
}
