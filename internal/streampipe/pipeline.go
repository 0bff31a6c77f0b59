// Package streampipe carries a streaming provider response to the client
// while an sse.Observer watches the same bytes fly past, restructured
// from the teacher's channel-backed BackpressureStream
// (llm/streaming/backpressure.go) into a single-producer/single-consumer
// pipe plus an explicit "keep draining after the client left" mode, since
// arbstr must never hold a provider connection open past its own
// deadline just because a browser tab closed.
package streampipe

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/arbstr/arbstr/internal/sse"
)

// bufferedChunks bounds how many not-yet-written chunks the pipe holds
// before the producer (Pump) blocks on the consumer, the same
// backpressure shape as the teacher's BackpressureConfig.BufferSize, just
// fixed rather than configurable: arbstr has one shape of stream to
// carry, not many tunable consumer classes.
const bufferedChunks = 32

const readChunkSize = 4096

// OnDrained is called exactly once, from within Pump's own goroutine,
// after the upstream body has been fully read (successfully or not). It
// receives what the observer learned and should return the trailing SSE
// frame to append to the client-visible stream, or nil to append nothing.
// Implementations that also need to persist the outcome (the log store
// update) should do so here — fire-and-forget relative to the HTTP
// handler goroutine, since Pump already runs on its own goroutine.
type OnDrained func(result sse.Result, readErr error) (trailer []byte)

// Pipeline is the bounded channel connecting a background reader of the
// upstream response body to the HTTP handler writing to the client.
type Pipeline struct {
	out chan []byte

	clientGoneOnce sync.Once
	clientGone     chan struct{}
}

// New builds an empty, unstarted Pipeline.
func New() *Pipeline {
	return &Pipeline{
		out:        make(chan []byte, bufferedChunks),
		clientGone: make(chan struct{}),
	}
}

// Chunks is the channel the HTTP handler ranges over to write bytes to
// the client. It is closed once Pump has finished draining the upstream
// body and emitting its trailer.
func (p *Pipeline) Chunks() <-chan []byte {
	return p.out
}

// SignalClientGone tells Pump to stop attempting to hand chunks to a
// consumer that is no longer reading (a disconnected client). Pump keeps
// reading the upstream body regardless, so the provider connection still
// drains to completion and the breaker/log-store outcome for this
// request stays accurate. Safe to call more than once or concurrently
// with Pump.
func (p *Pipeline) SignalClientGone() {
	p.clientGoneOnce.Do(func() { close(p.clientGone) })
}

// Pump reads body in readChunkSize increments, feeds each chunk to
// observer, and forwards it to Chunks() unless the client has gone away.
// It returns once body is exhausted (EOF or any other read error) and
// onDrained has run and its trailer (if any) has been queued.
func (p *Pipeline) Pump(body io.ReadCloser, observer *sse.Observer, onDrained OnDrained) {
	defer close(p.out)
	defer body.Close()

	buf := make([]byte, readChunkSize)
	var readErr error

	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			observer.Observe(chunk)
			p.trySend(chunk)
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}

	if onDrained == nil {
		return
	}
	if trailer := onDrained(observer.Result(), readErr); trailer != nil {
		p.trySend(trailer)
	}
}

// trySend forwards chunk to the consumer unless the client has signaled
// it is gone, in which case the send is skipped entirely rather than
// blocking on a channel nobody drains.
func (p *Pipeline) trySend(chunk []byte) {
	select {
	case <-p.clientGone:
		return
	default:
	}

	select {
	case p.out <- chunk:
	case <-p.clientGone:
	}
}

// EnsureIncludeUsage mutates a decoded chat-completion request body so
// that, when stream is true, stream_options.include_usage is also true —
// without this, OpenAI-compatible providers omit the usage object from
// the SSE stream entirely, leaving the observer with nothing to extract.
// body is a generic decoded JSON object (map[string]any); the function is
// a no-op when stream is absent or false.
func EnsureIncludeUsage(body map[string]any) {
	streaming, _ := body["stream"].(bool)
	if !streaming {
		return
	}

	opts, ok := body["stream_options"].(map[string]any)
	if !ok {
		opts = map[string]any{}
	}
	opts["include_usage"] = true
	body["stream_options"] = opts
}

// CompletionStatus classifies how a streamed request ended, for the
// persisted RequestLog row.
type CompletionStatus string

const (
	StatusCompleted    CompletionStatus = "completed"
	StatusDisconnected CompletionStatus = "client_disconnected"
	StatusIncomplete   CompletionStatus = "stream_incomplete"
	StatusUpstreamErr  CompletionStatus = "upstream_error"
)

// DetermineCompletionStatus applies the completion-status rules: a read
// error from the upstream body always wins (the stream broke on the
// provider's side, regardless of what the client did), then a client
// disconnect, then — only if the observer actually saw the [DONE]
// sentinel — a clean completion. An upstream that closes the connection
// cleanly without ever sending [DONE], and without a client disconnect or
// a read error, is a truncated stream rather than a transport failure.
//
// Whether the request counts as a success is a separate question from
// this status: a request is successful exactly when [DONE] was observed,
// even if the client had already disconnected by then. Callers derive
// success from result.DoneReceived directly, not from this status.
func DetermineCompletionStatus(result sse.Result, clientDisconnected bool, readErr error) CompletionStatus {
	if readErr != nil {
		return StatusUpstreamErr
	}
	if clientDisconnected {
		return StatusDisconnected
	}
	if !result.DoneReceived {
		return StatusIncomplete
	}
	return StatusCompleted
}

// MetadataFrame renders the trailing x-arbstr-* metadata as a single SSE
// data frame, appended after the provider's own [DONE] sentinel so that
// clients which stop reading at [DONE] never see it, while clients that
// keep reading (arbstr's own log/debug tooling) can recover the final
// cost and routing decision without a second request.
func MetadataFrame(meta map[string]any) []byte {
	body, err := json.Marshal(map[string]any{"arbstr": meta})
	if err != nil {
		return nil
	}
	return append(append([]byte("data: "), body...), []byte("\n\n")...)
}
