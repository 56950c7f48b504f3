// Package stream contains the client-facing stream plumbing: the sanitizer
// that repairs abnormal upstream terminations and the tap that captures the
// byte-exact client stream for debugging.
package stream

import (
	"bytes"
	"context"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/provider/sseutil"
)

var nullPayload = []byte("null")

// Sanitize consumes provider chunks and forwards client-safe chunks.
//
// Some upstreams terminate abnormal streams with a literal `data: null`
// payload, which OpenAI SDK clients crash on. When one arrives, Sanitize
// synthesizes a final stop chunk from the last id/model/created it has seen,
// signals normal completion, and cancels the upstream read. Everything else
// passes through unmodified.
func Sanitize(ctx context.Context, in <-chan plexus.StreamChunk, cancel context.CancelFunc) <-chan plexus.StreamChunk {
	out := make(chan plexus.StreamChunk, 8)
	go func() {
		defer close(out)

		var lastID, lastModel string
		var lastCreated int64
		for chunk := range in {
			if chunk.Done || chunk.Err != nil {
				out <- chunk
				return
			}
			data := bytes.TrimSpace(chunk.Data)
			if bytes.Equal(data, nullPayload) {
				synthetic := sseutil.BuildFinishChunk(lastID, lastModel, lastCreated, "stop")
				out <- plexus.StreamChunk{Data: synthetic}
				out <- plexus.StreamChunk{Done: true}
				cancel()
				drain(in)
				return
			}

			if id := gjson.GetBytes(data, "id"); id.Exists() {
				lastID = id.String()
			}
			if model := gjson.GetBytes(data, "model"); model.Exists() {
				lastModel = model.String()
			}
			if created := gjson.GetBytes(data, "created"); created.Exists() {
				lastCreated = created.Int()
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				out <- plexus.StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}()
	return out
}

// drain unblocks the producer after an early termination so its goroutine
// can observe the cancelled context and exit.
func drain(in <-chan plexus.StreamChunk) {
	go func() {
		for range in {
		}
	}()
}
