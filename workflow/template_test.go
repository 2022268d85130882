package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Hello {name}",
			vars:     map[string]string{"name": "world"},
			want:     "Hello world",
		},
		{
			name:     "step output placeholder",
			template: "Summarize: {collect_output}",
			vars:     map[string]string{"collect_output": "42 users signed up"},
			want:     "Summarize: 42 users signed up",
		},
		{
			name:     "unresolved placeholder left verbatim",
			template: "Use {missing_output} and {topic}",
			vars:     map[string]string{"topic": "billing"},
			want:     "Use {missing_output} and billing",
		},
		{
			name:     "dashed step ids resolve",
			template: "{step-2_output}",
			vars:     map[string]string{"step-2_output": "done"},
			want:     "done",
		},
		{
			name:     "empty template",
			template: "",
			vars:     map[string]string{"a": "b"},
			want:     "",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			vars:     nil,
			want:     "plain text",
		},
		{
			name:     "multiple occurrences",
			template: "{x} and {x}",
			vars:     map[string]string{"x": "y"},
			want:     "y and y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.vars))
		})
	}
}

// Rendering is pure: the same template and vars always produce the same
// string, and the vars map is never mutated.
func TestRender_Idempotent(t *testing.T) {
	vars := map[string]string{"workflow_name": "brief", "a_output": "x"}
	template := "{workflow_name}: {a_output} {unknown}"

	first := Render(template, vars)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Render(template, vars))
	}
	assert.Equal(t, map[string]string{"workflow_name": "brief", "a_output": "x"}, vars)
}

func TestRender_ConcurrentUse(t *testing.T) {
	vars := map[string]string{"n": "1"}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := Render("value={n}", vars); got != "value=1" {
					t.Errorf("unexpected render: %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
