//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed in a window.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", configFile), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed without a GPU for the configured number of frames.
func (Run) Headless() error {
	if err := buildShaders(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("run", ".", "-config", configFile, "-backend", "headless"), withStream())
	return err
}

// Runs the test suite. The vulkan backend is vetted first since no test drives it
// against a real device.
func (Run) Tests() error {
	if _, err := executeCmd("go", withArgs("vet", "./engine/renderer/vulkan/..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}
