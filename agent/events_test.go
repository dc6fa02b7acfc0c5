package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEventStream(t *testing.T) {
	stdout := `{"type":"text","part":{"text":"hello "}}
not json at all

{"type":"text","part":{"text":"world"}}
{"type":"step_finish","part":{"tokens":{"input":10,"output":5}}}
`
	events := parseEventStream(stdout)
	require.Len(t, events, 3)
	require.Equal(t, "text", events[0]["type"])
}

func TestTextFromEventsConcatenatesParts(t *testing.T) {
	events := parseEventStream(`{"type":"text","part":{"text":"foo"}}
{"type":"tool_call","part":{"name":"grep"}}
{"type":"text","part":{"text":"bar"}}`)

	require.Equal(t, "foobar", textFromEvents(events))
}

func TestTextFromEventsFallsBackToLastOutputField(t *testing.T) {
	events := parseEventStream(`{"type":"result","output":"first"}
{"type":"result","final_output":"  final answer  "}`)

	require.Equal(t, "final answer", textFromEvents(events))
}

func TestUsageFromEventsSumsTokenAliases(t *testing.T) {
	events := parseEventStream(`{"type":"step_finish","part":{"tokens":{"input":10,"output":5}}}
{"type":"step_finish","part":{"tokens":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":11}}}
{"type":"step_finish","part":{"tokens":{"input_tokens":2,"output_tokens":1}}}`)

	usage := usageFromEvents(events)
	require.Equal(t, 19, usage.PromptTokens)
	require.Equal(t, 9, usage.CompletionTokens)
	// first and third events default total to prompt+completion
	require.Equal(t, 15+11+3, usage.TotalTokens)
}

func TestUsageFromEventsFallsBackToUsageObject(t *testing.T) {
	events := parseEventStream(`{"type":"text","part":{"text":"hi"}}
{"type":"done","usage":{"input_tokens":100,"output_tokens":20}}`)

	usage := usageFromEvents(events)
	require.Equal(t, 100, usage.PromptTokens)
	require.Equal(t, 20, usage.CompletionTokens)
	require.Equal(t, 120, usage.TotalTokens)
}

func TestUsageFromEventsEmpty(t *testing.T) {
	events := parseEventStream(`{"type":"text","part":{"text":"hi"}}`)
	require.True(t, usageFromEvents(events).IsZero())
}

func TestErrorFromEventsPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   string
	}{
		{
			"explicit error event",
			`{"type":"text","part":{"text":"working"}}
{"type":"error","error":"model refused"}`,
			"noise on stderr",
			"model refused",
		},
		{
			"nested error message",
			`{"type":"fatal","error":{"message":"session crashed"}}`,
			"",
			"session crashed",
		},
		{
			"is_error flag",
			`{"type":"result","is_error":true,"message":"tool exploded"}`,
			"",
			"tool exploded",
		},
		{
			"part error",
			`{"type":"step_error","part":{"error":"compile failed"}}`,
			"",
			"compile failed",
		},
		{
			"stderr fallback",
			`{"type":"text","part":{"text":"partial"}}`,
			"warning: deprecated\nfatal: out of memory\n",
			"fatal: out of memory",
		},
		{
			"nothing anywhere",
			``,
			"",
			"",
		},
	}

	for _, tt := range tests {
		events := parseEventStream(tt.stdout)
		require.Equal(t, tt.want, errorFromEvents(events, tt.stderr), tt.name)
	}
}

func TestJSONObjectFromEvents(t *testing.T) {
	events := parseEventStream(`{"type":"text","part":{"text":"thinking..."}}
{"type":"result","output":"Here you go: {\"summary\":\"done\",\"plan\":{\"goal\":\"x\"}} enjoy"}`)

	obj, ok := jsonObjectFromEvents(events)
	require.True(t, ok)
	require.Equal(t, "done", obj["summary"])
}
