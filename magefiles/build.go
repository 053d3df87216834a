//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"

	"github.com/spaghettifunk/anima/v2/engine/renderer/shaders"
)

type Build mg.Namespace

// Compiles every WGSL shader so syntax errors show up before the engine starts.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the engine binary into bin/anima.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima", "."), withStream())
	return err
}

// Tidies go.mod and reruns go generate.
func (Build) Tidy() error {
	return tidy()
}

func buildShaders() error {
	files, err := filepath.Glob(filepath.Join(shaderDir, "*.wgsl"))
	if err != nil {
		return err
	}
	for _, f := range files {
		source, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		code, err := shaders.CompileWGSL(string(source))
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		fmt.Printf("compiled %s (%d words)\n", f, len(code))
	}
	return nil
}
