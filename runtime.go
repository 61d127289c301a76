package main

import (
	"fmt"

	"glot/infer"
)

// newRuntime selects the inference backend. infer.Runtime is the
// integration seam for an ONNX-backed engine; this build ships the
// synthetic runtime, which exercises the full load/generate protocol
// without real model weights.
func newRuntime(name string) (infer.Runtime, error) {
	switch name {
	case "synthetic":
		return infer.NewStubRuntime(), nil
	default:
		return nil, fmt.Errorf("unknown inference runtime %q", name)
	}
}
