package params

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/pinnacle/pkg/schema"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate returns human-readable violations; an empty result means p is valid.
// A missing field yields one violation and its format is not checked.
func Validate(p schema.FlowdirParameters) []string {
	var violations []string

	required := []struct {
		name, value string
		pattern     bool
	}{
		{"projectName", p.ProjectName, true},
		{"blockName", p.BlockName, true},
		{"toolName", p.ToolName, false},
		{"stage", p.Stage, false},
		{"runName", p.RunName, true},
	}
	for _, f := range required {
		switch {
		case strings.TrimSpace(f.value) == "":
			violations = append(violations, fmt.Sprintf("%s is required", f.name))
		case f.pattern && !namePattern.MatchString(f.value):
			violations = append(violations,
				fmt.Sprintf("%s %q may only contain letters, digits, underscores and hyphens", f.name, f.value))
		}
	}
	return violations
}

// Check validates p and returns a VALIDATION_ERROR carrying the violations, or nil.
func Check(p schema.FlowdirParameters) error {
	v := Validate(p)
	if len(v) == 0 {
		return nil
	}
	return schema.NewError(schema.ErrCodeValidation, strings.Join(v, "; ")).
		WithDetails(map[string]any{"violations": v})
}
