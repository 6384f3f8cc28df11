package analyst

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshal_DispatchesOnType(t *testing.T) {
	raw := `{
		"role": "analyst",
		"content": [
			{"type": "text", "text": "12 aircraft"},
			{"type": "sql", "statement": "SELECT COUNT(*) FROM ADSB_AIRCRAFT_DATA WHERE ALTITUDE_BARO > 30000"},
			{"type": "suggestions", "suggestions": ["Which airlines?", "Show altitudes over time"]}
		]
	}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Equal(t, RoleAnalyst, msg.Role)
	require.Len(t, msg.Content, 3)
	require.Equal(t, Text{Text: "12 aircraft"}, msg.Content[0])
	require.Equal(t, SQL{Statement: "SELECT COUNT(*) FROM ADSB_AIRCRAFT_DATA WHERE ALTITUDE_BARO > 30000"}, msg.Content[1])
	require.Equal(t, Suggestions{Suggestions: []string{"Which airlines?", "Show altitudes over time"}}, msg.Content[2])
}

func TestMessageUnmarshal_SkipsUnknownVariants(t *testing.T) {
	raw := `{
		"role": "analyst",
		"content": [
			{"type": "chart_hint", "spec": "..."},
			{"type": "text", "text": "hello"}
		]
	}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Len(t, msg.Content, 1)
	require.Equal(t, Text{Text: "hello"}, msg.Content[0])
}

func TestMessageMarshal_WritesDiscriminators(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Content: []ContentItem{
			Text{Text: "How many aircraft above 30000 feet?"},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"How many aircraft above 30000 feet?"}]}`, string(data))
}

func TestMessageMarshal_RoundTrips(t *testing.T) {
	msg := Message{
		Role: RoleAnalyst,
		Content: []ContentItem{
			Text{Text: "answer"},
			SQL{Statement: "SELECT 1"},
			Suggestions{Suggestions: []string{"a", "b"}},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, msg, decoded)
}
