package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []Record {
	t.Helper()
	sink := NewMemorySink()
	log := NewLog(sink, WithIDGenerator(counterIDs()))
	for i := 0; i < n; i++ {
		_, err := log.Append(context.Background(), sampleRecord("host-a", "conf", "unchanged"))
		require.NoError(t, err)
	}
	return sink.Records()
}

func TestVerifyChain(t *testing.T) {
	t.Parallel()

	t.Run("intact", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, VerifyChain(buildChain(t, 4)))
		assert.NoError(t, VerifyChain(nil))
	})

	t.Run("tail anchors on first record", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, VerifyChain(buildChain(t, 4)[2:]))
	})

	t.Run("tampered content", func(t *testing.T) {
		t.Parallel()
		records := buildChain(t, 3)
		records[1].Outcome = "changed"

		err := VerifyChain(records)
		var chainErr *ChainError
		require.ErrorAs(t, err, &chainErr)
		assert.Equal(t, int64(2), chainErr.Sequence)
		assert.Contains(t, chainErr.Error(), "hash does not match")
	})

	t.Run("removed record", func(t *testing.T) {
		t.Parallel()
		records := buildChain(t, 3)
		records = append(records[:1], records[2:]...)

		err := VerifyChain(records)
		var chainErr *ChainError
		require.ErrorAs(t, err, &chainErr)
		assert.Equal(t, int64(3), chainErr.Sequence)
		assert.Contains(t, chainErr.Reason, "expected seq 2")
	})

	t.Run("relinked record", func(t *testing.T) {
		t.Parallel()
		records := buildChain(t, 3)
		records[2].PreviousHash = "forged"
		records[2].Hash = records[2].ComputeHash()

		err := VerifyChain(records)
		var chainErr *ChainError
		require.ErrorAs(t, err, &chainErr)
		assert.Equal(t, "previous hash does not match", chainErr.Reason)
	})
}
