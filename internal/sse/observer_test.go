package sse

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleStream = `data: {"choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}

data: [DONE]
`

func TestObserver_ExtractsUsageAndFinishReason(t *testing.T) {
	o := New(zap.NewNop())
	o.Observe([]byte(sampleStream))

	result := o.Result()
	assert.True(t, result.DoneReceived)
	assert.Equal(t, "stop", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int64(10), result.Usage.PromptTokens)
	assert.Equal(t, int64(5), result.Usage.CompletionTokens)
	assert.Equal(t, int64(15), result.Usage.TotalTokens)
}

func TestObserver_NoUsageWithoutDone(t *testing.T) {
	o := New(zap.NewNop())
	// Feed everything except the final [DONE] line.
	idx := len(sampleStream) - len("data: [DONE]\n")
	o.Observe([]byte(sampleStream[:idx]))

	result := o.Result()
	assert.False(t, result.DoneReceived)
	assert.Nil(t, result.Usage)
}

func TestObserver_HandlesArbitraryChunkSplits(t *testing.T) {
	full := []byte(sampleStream)
	for split := 0; split < len(full); split += 7 {
		o := New(zap.NewNop())
		o.Observe(full[:split])
		o.Observe(full[split:])

		result := o.Result()
		assert.True(t, result.DoneReceived)
		assert.Equal(t, "stop", result.FinishReason)
		require.NotNil(t, result.Usage)
		assert.Equal(t, int64(15), result.Usage.TotalTokens)
	}
}

func TestObserver_SkipsMalformedLinesWithoutCrashing(t *testing.T) {
	o := New(zap.NewNop())
	assert.NotPanics(t, func() {
		o.Observe([]byte("data: {not valid json\n\ndata: [DONE]\n"))
	})
	assert.True(t, o.Result().DoneReceived)
}

func TestObserver_IgnoresNonDataLines(t *testing.T) {
	o := New(zap.NewNop())
	o.Observe([]byte(": this is an SSE comment\nevent: ping\n\ndata: [DONE]\n"))
	assert.True(t, o.Result().DoneReceived)
}

func TestObserver_OverflowDiscardsBufferWithoutPanic(t *testing.T) {
	o := New(zap.NewNop())
	huge := make([]byte, maxLineSize+100)
	for i := range huge {
		huge[i] = 'x'
	}
	assert.NotPanics(t, func() {
		o.Observe(huge)
		o.Observe([]byte("\ndata: [DONE]\n"))
	})
}

// Chunk-splitting invariance property from spec §8: for any way of
// slicing the same byte stream into Observe calls, the final Result is
// identical.
func TestObserver_ChunkSplitProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("result is independent of chunk boundaries", prop.ForAll(
		func(seed int64) bool {
			full := []byte(sampleStream)
			rng := rand.New(rand.NewSource(seed))

			o := New(nil)
			pos := 0
			for pos < len(full) {
				n := 1 + rng.Intn(5)
				end := pos + n
				if end > len(full) {
					end = len(full)
				}
				o.Observe(full[pos:end])
				pos = end
			}

			result := o.Result()
			return result.DoneReceived &&
				result.FinishReason == "stop" &&
				result.Usage != nil &&
				result.Usage.TotalTokens == 15
		},
		gen.Int64Range(0, 10000),
	))

	properties.TestingRun(t)
}
