package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"fenced json", "Here:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`},
		{"fenced bare", "```\n[1, 2]\n```", `[1, 2]`},
		{"prose around object", "sure {\"a\": {\"b\": 2}} done", `{"a": {"b": 2}}`},
		{"array", "result: [\"x\"]", `["x"]`},
		{"control chars", "{\"a\":\x01 1}", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Payload(tt.reply))
		})
	}
}

func TestDecode(t *testing.T) {
	var v map[string][]string
	require.NoError(t, Decode("```json\n{\"Alice\": [\"Al\"]}\n```", &v))
	assert.Equal(t, []string{"Al"}, v["Alice"])

	assert.Error(t, Decode("no json here", &v))
	assert.Error(t, Decode("", &v))
}
