// Package sse observes an OpenAI-compatible Server-Sent Events stream as
// it passes through the proxy, extracting usage and finish_reason without
// altering or slowing down the byte-for-byte passthrough to the client.
// Restructured from the teacher's StreamSSE (which parses a whole
// response body in one goroutine, openaicompat/provider.go) into a
// stateful object that accepts arbitrarily-sized byte chunks as they
// arrive off the wire.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// maxLineSize bounds how much unterminated data the observer will buffer
// waiting for a newline. A provider that never sends one (or sends an
// absurdly long single line) must not let the observer grow without
// bound; it discards the buffer and keeps passing bytes through
// unaffected once the limit is hit.
const maxLineSize = 64 * 1024

// Usage mirrors the OpenAI usage object.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Result is what the observer learned by the time the stream ended.
type Result struct {
	// Usage is non-nil only when DoneReceived is true: a provider that
	// disconnects mid-stream may have sent a partial or stale usage
	// object in an earlier chunk, and reporting it as final would be
	// wrong, so an incomplete stream yields no usage at all.
	Usage        *Usage
	FinishReason string
	DoneReceived bool
}

// Observer accumulates SSE bytes across chunk boundaries and extracts
// usage/finish_reason. It is not safe for concurrent use; one Observer is
// created per request.
type Observer struct {
	logger *zap.Logger

	buf          []byte
	usage        *Usage
	finishReason string
	doneReceived bool
}

// New builds an Observer. logger may be nil.
func New(logger *zap.Logger) *Observer {
	return &Observer{logger: logger}
}

// Observe feeds the next chunk of raw bytes read from the upstream
// response body. It never returns an error: a malformed line is logged
// and skipped, and a panic while decoding one line is recovered so that a
// single bad chunk can never take down the streaming pipeline around it.
func (o *Observer) Observe(chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			o.warn("sse observer recovered from panic", zap.Any("panic", r))
		}
	}()

	o.buf = append(o.buf, chunk...)

	for {
		idx := bytes.IndexByte(o.buf, '\n')
		if idx < 0 {
			if len(o.buf) > maxLineSize {
				o.warn("sse observer line buffer exceeded limit, discarding", zap.Int("size", len(o.buf)))
				o.buf = nil
			}
			return
		}

		line := o.buf[:idx]
		o.buf = o.buf[idx+1:]
		o.processLine(line)

		if o.doneReceived {
			return
		}
	}
}

func (o *Observer) processLine(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "data:") {
		return
	}

	data := strings.TrimSpace(strings.TrimPrefix(text, "data:"))
	if data == "[DONE]" {
		o.doneReceived = true
		return
	}

	var payload sseChunk
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		o.warn("sse observer skipping unparseable line", zap.Error(err))
		return
	}

	if payload.Usage != nil {
		o.usage = &Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}

	for _, choice := range payload.Choices {
		if choice.FinishReason != "" {
			o.finishReason = choice.FinishReason
		}
	}
}

// Result returns what has been learned so far. Callers typically call
// this once, after the upstream body has been fully drained (or the
// client disconnected and the background pump finished draining it).
func (o *Observer) Result() Result {
	usage := o.usage
	if !o.doneReceived {
		usage = nil
	}
	return Result{
		Usage:        usage,
		FinishReason: o.finishReason,
		DoneReceived: o.doneReceived,
	}
}

// sseChunk is the subset of an OpenAI-compatible streamed chunk the
// observer cares about; everything else is ignored by
// encoding/json's default unknown-field tolerance.
type sseChunk struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (o *Observer) warn(msg string, fields ...zap.Field) {
	if o.logger == nil {
		return
	}
	o.logger.Warn(msg, fields...)
}
