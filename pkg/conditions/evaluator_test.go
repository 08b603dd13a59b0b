package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func imageEventEnv() Env {
	return Env{
		"event": map[string]any{
			"eventKey":          "object_added",
			"emitterIdentifier": "platform",
			"data": map[string]any{
				"mediaType": "IMAGE",
				"mimeType":  "image/png",
				"sizeBytes": float64(441884),
				"tags":      []any{"photo", "raw"},
			},
		},
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	evaluator := NewEvaluator()

	tests := []struct {
		name       string
		expression string
		expected   bool
	}{
		{
			name:       "strict equality match",
			expression: "event.data.mediaType === 'IMAGE'",
			expected:   true,
		},
		{
			name:       "strict equality mismatch",
			expression: "event.data.mediaType === 'VIDEO'",
			expected:   false,
		},
		{
			name:       "strict inequality",
			expression: "event.data.mediaType !== 'VIDEO'",
			expected:   true,
		},
		{
			name:       "numeric comparison",
			expression: "event.data.sizeBytes > 100000",
			expected:   true,
		},
		{
			name:       "numeric comparison false",
			expression: "event.data.sizeBytes < 100000",
			expected:   false,
		},
		{
			name:       "logical and",
			expression: "event.data.mediaType === 'IMAGE' && event.data.sizeBytes > 100000",
			expected:   true,
		},
		{
			name:       "logical or",
			expression: "event.data.mediaType === 'VIDEO' || event.data.sizeBytes >= 441884",
			expected:   true,
		},
		{
			name:       "unary not",
			expression: "!(event.data.mediaType === 'VIDEO')",
			expected:   true,
		},
		{
			name:       "startsWith",
			expression: "event.data.mimeType.startsWith('image/')",
			expected:   true,
		},
		{
			name:       "includes",
			expression: "event.data.mimeType.includes('png')",
			expected:   true,
		},
		{
			name:       "bracket notation",
			expression: "event['data']['mediaType'] === 'IMAGE'",
			expected:   true,
		},
		{
			name:       "array index access",
			expression: "event.data.tags[0] === 'photo'",
			expected:   true,
		},
		{
			name:       "missing property compares false",
			expression: "event.data.missing === 'IMAGE'",
			expected:   false,
		},
		{
			name:       "null literal equality",
			expression: "event.data.missing === null",
			expected:   true,
		},
		{
			name:       "empty expression",
			expression: "",
			expected:   false,
		},
		{
			name:       "whitespace only expression",
			expression: "   \t\n ",
			expected:   false,
		},
		{
			name:       "malformed expression",
			expression: "event.data.mediaType ===",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, evaluator.Evaluate(tt.expression, imageEventEnv()))
		})
	}
}

// Adversarial inputs must evaluate to false without executing anything or
// panicking, whatever the shape of the escape attempt.
func TestEvaluator_Totality(t *testing.T) {
	evaluator := NewEvaluator()

	expressions := []string{
		"require('fs').readFileSync('/etc/passwd')",
		"process.exit(1)",
		"process.env.SECRET",
		"global.process.mainModule.require('child_process')",
		"globalThis.eval('1')",
		"this.constructor.constructor('return process')()",
		"''.constructor.constructor('return 1')()",
		"event.constructor.constructor('return process')()",
		"(() => { while(true) {} })()",
		"event.data.mediaType = 'VIDEO'",
		"`${process.env.HOME}`",
		"new Function('return 1')()",
		"event.data.tags.map(t => t)",
		"Math.random() > 0",
		"JSON.stringify(event)",
		"event.data.mediaType.constructor('return 1')()",
		"event.data.sizeBytes++",
		"delete event.data",
		"typeof process",
		"event; process.exit(1)",
		"{}",
		"[",
		"1 +",
		"function f() {}",
	}

	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, evaluator.Evaluate(expression, imageEventEnv()))
			})
		})
	}
}

func TestEvaluator_NonEventEnvRoots(t *testing.T) {
	evaluator := NewEvaluator()

	// Identifiers outside the env never resolve.
	assert.False(t, evaluator.Evaluate("other.data.x === 1", imageEventEnv()))

	// A custom env root resolves like any other.
	env := Env{"event": map[string]any{"data": map[string]any{"count": float64(3)}}}
	assert.True(t, evaluator.Evaluate("event.data.count <= 3", env))
}
