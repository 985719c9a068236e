package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "req-1")
	lookupCtx, lookup := StartChildSpan(ctx, "candidate_lookup")
	_, inner := StartChildSpan(lookupCtx, "postgres")
	inner.End()
	lookup.End()
	_, rank := StartChildSpan(ctx, "rank")
	rank.End()
	root.End()

	assert.Same(t, root, SpanFromContext(ctx))
	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "candidate_lookup", children[0].Name)
	assert.Equal(t, "rank", children[1].Name)
	assert.Equal(t, "req-1", inner.TraceID)
	assert.GreaterOrEqual(t, root.Duration(), lookup.Duration())
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "rank")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := StartSpan(context.Background(), "search", "req-2")
	span.End()
	first := span.Duration()
	span.End()
	assert.Equal(t, first, span.Duration())
}

func TestLogRespectsLevel(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "req-3")
	root.SetAttr("query", "PA Galuxy")
	_, child := StartChildSpan(ctx, "rank")
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())

	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=search")
	assert.Contains(t, lines[0], `query="PA Galuxy"`)
	assert.Contains(t, lines[1], "span=rank")
	assert.Contains(t, lines[1], "depth=1")
	assert.Contains(t, lines[1], "trace_id=req-3")
}
