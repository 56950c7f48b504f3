package stream

import (
	"context"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

func collect(t *testing.T, ch <-chan plexus.StreamChunk) []plexus.StreamChunk {
	t.Helper()
	var out []plexus.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}
}

func TestSanitizePassThrough(t *testing.T) {
	t.Parallel()
	in := make(chan plexus.StreamChunk, 4)
	in <- plexus.StreamChunk{Data: []byte(`{"id":"c1","choices":[{"delta":{"content":"hi"}}]}`)}
	in <- plexus.StreamChunk{Data: []byte(`{"id":"c1","choices":[{"delta":{},"finish_reason":"stop"}]}`)}
	in <- plexus.StreamChunk{Done: true}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, Sanitize(ctx, in, cancel))

	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if string(got[0].Data) != `{"id":"c1","choices":[{"delta":{"content":"hi"}}]}` {
		t.Fatalf("chunk 0 altered: %s", got[0].Data)
	}
	if !got[2].Done {
		t.Fatal("last chunk not Done")
	}
}

func TestSanitizeNullPayload(t *testing.T) {
	t.Parallel()
	in := make(chan plexus.StreamChunk, 4)
	in <- plexus.StreamChunk{Data: []byte(`{"id":"chatcmpl-9","model":"gpt-4o","created":1700000100,"choices":[{"delta":{"content":"partial"}}]}`)}
	in <- plexus.StreamChunk{Data: []byte(" null\n")}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, Sanitize(ctx, in, cancel))

	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3 (original, synthetic, done)", len(got))
	}

	synthetic := gjson.ParseBytes(got[1].Data)
	if got := synthetic.Get("id").String(); got != "chatcmpl-9" {
		t.Fatalf("synthetic id = %q, want chatcmpl-9", got)
	}
	if got := synthetic.Get("model").String(); got != "gpt-4o" {
		t.Fatalf("synthetic model = %q, want gpt-4o", got)
	}
	if got := synthetic.Get("created").Int(); got != 1700000100 {
		t.Fatalf("synthetic created = %d, want 1700000100", got)
	}
	if got := synthetic.Get("choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("synthetic finish_reason = %q, want stop", got)
	}
	if !got[2].Done {
		t.Fatal("stream did not end with Done")
	}

	// Upstream read must be cancelled.
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("upstream context not cancelled")
	}
}

func TestSanitizeNullFirstChunk(t *testing.T) {
	t.Parallel()
	in := make(chan plexus.StreamChunk, 2)
	in <- plexus.StreamChunk{Data: []byte("null")}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, Sanitize(ctx, in, cancel))

	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	synthetic := gjson.ParseBytes(got[0].Data)
	if got := synthetic.Get("id").String(); got != "" {
		t.Fatalf("synthetic id = %q, want empty", got)
	}
	if got := synthetic.Get("choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish_reason = %q, want stop", got)
	}
}

func TestSanitizeForwardsError(t *testing.T) {
	t.Parallel()
	in := make(chan plexus.StreamChunk, 2)
	wantErr := plexus.ErrProviderError
	in <- plexus.StreamChunk{Err: wantErr}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, Sanitize(ctx, in, cancel))

	if len(got) != 1 || got[0].Err != wantErr {
		t.Fatalf("chunks = %+v, want single error chunk", got)
	}
}

func TestSanitizeUnblocksProducerAfterNull(t *testing.T) {
	t.Parallel()
	in := make(chan plexus.StreamChunk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		defer close(in)
		in <- plexus.StreamChunk{Data: []byte("null")}
		// A producer that does not yet see the cancel may emit more.
		in <- plexus.StreamChunk{Data: []byte(`{"id":"late"}`)}
	}()

	collect(t, Sanitize(ctx, in, cancel))

	select {
	case <-producerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("producer still blocked after sanitized termination")
	}
}
