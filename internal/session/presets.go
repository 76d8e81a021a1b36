package session

import (
	"fmt"

	"github.com/farid/autostrike/internal/models"
)

// Preset defines a named session template with pre-configured settings.
type Preset struct {
	Name        string
	Description string
	Mode        models.SessionMode
	Iterations  int
	// SystemPrompt replaces the generator's default instruction when
	// non-empty, steering what kinds of commands it proposes.
	SystemPrompt string
}

// builtinPresets is the registry of all known presets.
var builtinPresets = map[string]Preset{
	"recon": {
		Name:        "recon",
		Description: "Unattended surface mapping with read-only enumeration commands",
		Mode:        models.ModeUnattended,
		Iterations:  3,
		SystemPrompt: "You are assisting an authorized penetration test. Propose one " +
			"non-destructive reconnaissance command per round (port scans, service " +
			"enumeration, DNS lookups). Never propose exploitation.",
	},
	"full-assault": {
		Name:        "full-assault",
		Description: "Attended deep assessment; every command pauses for operator approval",
		Mode:        models.ModeAttended,
		Iterations:  10,
		SystemPrompt: "You are assisting an authorized penetration test. Propose one " +
			"command per round, progressing from reconnaissance to exploitation as " +
			"findings justify it. A human reviews every command before it runs.",
	},
	"observer": {
		Name:        "observer",
		Description: "Reasoning commentary over commands executed outside this process",
		Mode:        models.ModeReasoning,
		Iterations:  5,
		SystemPrompt: "You are observing an authorized penetration test. Explain what " +
			"each executed command revealed and propose the logical next step.",
	},
}

// BuiltinPresets returns the available preset templates.
func BuiltinPresets() map[string]Preset {
	// Return a copy so callers cannot mutate the registry.
	out := make(map[string]Preset, len(builtinPresets))
	for k, v := range builtinPresets {
		out[k] = v
	}
	return out
}

// GetPreset returns a preset by name, or an error if not found.
func GetPreset(name string) (*Preset, error) {
	p, ok := builtinPresets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: recon, full-assault, observer)", name)
	}
	cp := p
	return &cp, nil
}
