package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		names    []string
		args     map[string]string
		escape   bool
		want     string
	}{
		{
			name:     "substitutes every occurrence",
			template: "Hi NAME, bye NAME",
			names:    []string{"NAME"},
			args:     map[string]string{"NAME": "Ada"},
			want:     "Hi Ada, bye Ada",
		},
		{
			name:     "missing value leaves name in place",
			template: "Hi NAME",
			names:    []string{"NAME"},
			args:     map[string]string{},
			want:     "Hi NAME",
		},
		{
			name:     "unconfigured argument is ignored",
			template: "Hi NAME",
			args:     map[string]string{"NAME": "Ada"},
			want:     "Hi NAME",
		},
		{
			name:     "escapes after substitution",
			template: "{x} NAME",
			names:    []string{"NAME"},
			args:     map[string]string{"NAME": "{y}"},
			escape:   true,
			want:     "{{x}} {{y}}",
		},
		{
			name:     "braced placeholder names",
			template: "Hello {user}",
			names:    []string{"{user}"},
			args:     map[string]string{"{user}": "Bob"},
			escape:   true,
			want:     "Hello Bob",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderPrompt(tt.template, tt.names, tt.args, tt.escape))
		})
	}
}
