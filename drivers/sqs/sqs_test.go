package sqs

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/queue"
)

func TestSendEntriesKeyedByUUID(t *testing.T) {
	msgs := []queue.Message{
		{UUID: "aaa", Timestamp: "t1"},
		{UUID: "bbb", Timestamp: "t2"},
		{UUID: "ccc", Timestamp: "t3"},
	}
	entries, failed := sendEntries(msgs)
	require.Empty(t, failed)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, msgs[i].UUID, aws.StringValue(e.Id))
		body, err := queue.DecodeMessage(aws.StringValue(e.MessageBody))
		require.NoError(t, err)
		require.Equal(t, msgs[i].UUID, body.UUID)
	}
}

func TestSendEntriesDuplicateUUIDs(t *testing.T) {
	msgs := []queue.Message{
		{UUID: "aaa"},
		{UUID: "aaa"},
		{UUID: "aaa"},
	}
	entries, failed := sendEntries(msgs)
	require.Empty(t, failed)
	require.Len(t, entries, 3)
	require.Equal(t, "aaa", aws.StringValue(entries[0].Id))
	require.Equal(t, "aaa-1", aws.StringValue(entries[1].Id))
	require.Equal(t, "aaa-2", aws.StringValue(entries[2].Id))
}

func TestEntryIDStableAcrossBatchKinds(t *testing.T) {
	seen := make(map[string]bool)
	require.Equal(t, "aaa", entryID(seen, "aaa", 0))
	require.Equal(t, "bbb", entryID(seen, "bbb", 1))
	require.Equal(t, "aaa-2", entryID(seen, "aaa", 2))
}
