package loader

import (
	"embed"
	"fmt"

	"github.com/adamancini/modrunner/internal/types"
)

//go:embed bootstrap/*.py
var bootstrapFS embed.FS

// Mechanism is the kind-specific way an artifact is imported by the
// interpreter.
type Mechanism interface {
	Kind() types.ArtifactKind
	// Script returns the complete bootstrap program handed to the
	// interpreter with -c.
	Script() string
}

type scriptMechanism struct {
	kind   types.ArtifactKind
	script string
}

func (m *scriptMechanism) Kind() types.ArtifactKind { return m.kind }
func (m *scriptMechanism) Script() string           { return m.script }

// MechanismFor returns the mechanism for kind: native extensions are
// imported through importlib, bytecode through marshal.
func MechanismFor(kind types.ArtifactKind) (Mechanism, error) {
	var file string
	switch kind {
	case types.ArtifactNative:
		file = "bootstrap/native.py"
	case types.ArtifactBytecode:
		file = "bootstrap/bytecode.py"
	default:
		return nil, fmt.Errorf("no load mechanism for artifact kind %q", kind)
	}

	loader, err := bootstrapFS.ReadFile(file)
	if err != nil {
		return nil, err
	}
	common, err := bootstrapFS.ReadFile("bootstrap/common.py")
	if err != nil {
		return nil, err
	}

	return &scriptMechanism{
		kind:   kind,
		script: string(loader) + "\n\n" + string(common),
	}, nil
}

func probeScript() string {
	b, _ := bootstrapFS.ReadFile("bootstrap/probe.py")
	return string(b)
}
