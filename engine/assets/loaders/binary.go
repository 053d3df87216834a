package loaders

import (
	"fmt"
	"io"
	"os"
)

// BinaryLoader reads SPIR-V files into words.
type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, params interface{}) (*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("shader binary %s has %d bytes, not a whole number of words", path, len(buf))
	}

	res := bytesToBytecode(buf)

	return &Resource{
		Name:     NameOf(path),
		FullPath: path,
		Kind:     KindShaderBinary,
		DataSize: uint64(len(buf)),
		Data:     res,
	}, nil
}

func (bl *BinaryLoader) Unload(*Resource) error {
	return nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}
