package workflow

import "regexp"

// Placeholders have the form {name}. Names follow identifier rules plus
// dashes so auto-generated step ids like step-2 resolve as {step-2_output}.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_-]*)\}`)

// Render substitutes {name} placeholders in template from vars.
//
// Unresolved placeholders are left verbatim: a run with failed steps still
// produces a readable prompt instead of an error. Render is pure and safe
// to call concurrently; DAG execution renders multiple prompts in parallel.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
