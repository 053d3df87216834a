package spirvtest

import (
	"encoding/binary"
	"os"
	"path/filepath"
)

// Bytes encodes words the way shader compilers write .spv files.
func Bytes(words []uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

// WriteFile writes a module to path, creating the parent directories.
func WriteFile(path string, words []uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, Bytes(words), 0o644)
}

// WriteQuadShaders writes quad.vert.spv and quad.frag.spv into dir.
func WriteQuadShaders(dir string) error {
	if err := WriteFile(filepath.Join(dir, "quad.vert.spv"), QuadVertex()); err != nil {
		return err
	}
	return WriteFile(filepath.Join(dir, "quad.frag.spv"), QuadFragment())
}

// WriteLineShaders writes line.vert.spv, line.frag.spv and line_id.vert.spv into dir.
func WriteLineShaders(dir string) error {
	if err := WriteFile(filepath.Join(dir, "line.vert.spv"), LineVertex(false)); err != nil {
		return err
	}
	if err := WriteFile(filepath.Join(dir, "line_id.vert.spv"), LineVertex(true)); err != nil {
		return err
	}
	return WriteFile(filepath.Join(dir, "line.frag.spv"), LineFragment())
}
