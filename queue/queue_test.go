package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageWireFormat(t *testing.T) {
	sid := int64(42)
	m := Message{
		UUID:        "abc",
		Sid:         &sid,
		Strict:      true,
		Timestamp:   "2024-01-01T00:00:00Z",
		Diff:        []string{"Foo.name"},
		TelemetryID: "t-1",
	}
	body, err := m.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"uuid": "abc", "sid": 42, "strict": true,
		"timestamp": "2024-01-01T00:00:00Z",
		"diff": ["Foo.name"], "telemetry_id": "t-1"
	}`, body)

	got, err := DecodeMessage(body)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestNullSidOnWire(t *testing.T) {
	got, err := DecodeMessage(`{"uuid": "abc", "sid": null, "strict": false, "timestamp": "now"}`)
	require.NoError(t, err)
	require.Nil(t, got.Sid)

	body, err := got.Encode()
	require.NoError(t, err)
	require.Contains(t, body, `"sid":null`)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage("not json")
	require.Error(t, err)
}

func TestChunk(t *testing.T) {
	var empty []int
	require.Nil(t, Chunk(empty, 10))

	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)

	chunks = Chunk([]int{1, 2}, 10)
	require.Equal(t, [][]int{{1, 2}}, chunks)
}
