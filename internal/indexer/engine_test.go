package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
)

type brokenStore struct {
	store.Store
}

func (brokenStore) Put(context.Context, store.Record) error { return errors.New("disk full") }

func newEngine(t *testing.T, cfg config.IndexerConfig) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewEngine(cfg, index.NewMemoryIndex(), st), st
}

func defaultCfg() config.IndexerConfig {
	return config.Default().Indexer
}

func TestApplyCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, defaultCfg())

	res, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindCreated, Outcome: OutcomeApplied}, res)
	assert.ElementsMatch(t, []string{"id1"}, e.Index().Postings("gal"))

	res, err = e.Apply(ctx, Upsert("id1", "Seattle Sounders"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindUpdated, Outcome: OutcomeApplied}, res)
	assert.Empty(t, e.Index().Postings("gal"))
	assert.Equal(t, []string{"id1"}, e.Index().Postings("sea"))

	names, err := st.Names(ctx, []string{"id1"})
	require.NoError(t, err)
	assert.Equal(t, "Seattle Sounders", names["id1"])

	res, err = e.Apply(ctx, Delete("id1"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindDeleted, Outcome: OutcomeApplied}, res)
	assert.Equal(t, 0, e.Index().Len())
	assert.Equal(t, 0, st.Len())
	assert.Empty(t, e.Index().Candidates(e.Tokenizer().Tokenize("Seattle")))
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, defaultCfg())

	_, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	once := e.Index().Snapshot()

	res, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, once, e.Index().Snapshot())

	// redelivered delete of an unknown id is a no-op
	res, err = e.Apply(ctx, Delete("nope"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
}

func TestDeleteThenRecreateRestoresPostings(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, defaultCfg())

	_, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	before := e.Index().Snapshot()

	_, err = e.Apply(ctx, Delete("id1"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	assert.Equal(t, before, e.Index().Snapshot())
}

func TestApplyRejectsMissingID(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, defaultCfg())
	_, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	before := e.Index().Snapshot()

	for _, ev := range []Event{Upsert("", "LA Galaxy"), Upsert("  ", "x"), Delete("")} {
		res, err := e.Apply(ctx, ev)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrRejectedEvent)
		assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
		assert.Equal(t, OutcomeRejected, res.Outcome)
	}
	assert.Equal(t, before, e.Index().Snapshot())
	assert.Equal(t, 1, st.Len())
}

func TestApplyShortTextClearsPostings(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, defaultCfg())
	_, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)

	_, err = e.Apply(ctx, Upsert("id1", "LA"))
	require.NoError(t, err)
	assert.Equal(t, 0, e.Index().Len())
	// the record itself still exists
	assert.Equal(t, 1, st.Len())
}

func TestApplyRenameWithSameNgrams(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, defaultCfg())
	_, err := e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	gen := e.Index().Generation()

	res, err := e.Apply(ctx, Upsert("id1", "la galaxy"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindUpdated, Outcome: OutcomeApplied}, res)
	assert.Greater(t, e.Index().Generation(), gen)

	names, err := st.Names(ctx, []string{"id1"})
	require.NoError(t, err)
	assert.Equal(t, "la galaxy", names["id1"])

	gen = e.Index().Generation()
	res, err = e.Apply(ctx, Upsert("id1", "la galaxy"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, gen, e.Index().Generation())
}

func TestApplyShortTextRecordIsKnown(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, defaultCfg())

	res, err := e.Apply(ctx, Upsert("id1", "LA"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindCreated, Outcome: OutcomeApplied}, res)
	assert.Equal(t, 0, e.Index().Len())

	res, err = e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindUpdated, Outcome: OutcomeApplied}, res)

	_, err = e.Apply(ctx, Upsert("id2", "SF"))
	require.NoError(t, err)
	res, err = e.Apply(ctx, Delete("id2"))
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindDeleted, Outcome: OutcomeApplied}, res)
	assert.Equal(t, 1, st.Len())
}

func TestApplyStoreFailureLeavesIndexUntouched(t *testing.T) {
	e := NewEngine(defaultCfg(), index.NewMemoryIndex(), brokenStore{Store: store.NewMemoryStore()})
	_, err := e.Apply(context.Background(), Upsert("id1", "LA Galaxy"))
	require.Error(t, err)
	assert.Equal(t, 0, e.Index().Len())
}

func TestApplyOrderingNotEnforcedByDefault(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, defaultCfg())

	newer := Upsert("id1", "LA Galaxy")
	newer.Updated = "200.0000000000"
	older := Upsert("id1", "Seattle Sounders")
	older.Updated = "100.0000000000"

	_, err := e.Apply(ctx, newer)
	require.NoError(t, err)
	res, err := e.Apply(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.NotEmpty(t, e.Index().Postings("sea"))
}

func TestApplyEnforceOrderingDropsOlderEvents(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.EnforceOrdering = true
	e, _ := newEngine(t, cfg)

	newer := Upsert("id1", "LA Galaxy")
	newer.Updated = "200.0000000002"
	older := Upsert("id1", "Seattle Sounders")
	older.Updated = "200.0000000001"

	_, err := e.Apply(ctx, newer)
	require.NoError(t, err)
	res, err := e.Apply(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Empty(t, e.Index().Postings("sea"))

	// a delete leaves its version behind, so a late create stays dropped
	del := Delete("id1")
	del.Updated = "300.0000000000"
	_, err = e.Apply(ctx, del)
	require.NoError(t, err)
	late := Upsert("id1", "LA Galaxy")
	late.Updated = "250.0000000000"
	res, err = e.Apply(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, 0, e.Index().Len())

	// events without a timestamp always apply
	res, err = e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore()
	for _, r := range []store.Record{
		{ID: "id1", Text: "LA Galaxy"},
		{ID: "id2", Text: "LA Galaxy II"},
		{ID: "id3", Text: "LA"},
	} {
		require.NoError(t, src.Put(ctx, r))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := NewEngine(defaultCfg(), index.NewMemoryIndex(), src, WithMetrics(m))
	n, err := e.Hydrate(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, e.Index().Len())
	assert.Equal(t, []string{"id1", "id2"}, e.Index().Candidates(e.Tokenizer().Tokenize("galaxy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexedRecords))
}

func TestApplyRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	e := NewEngine(defaultCfg(), index.NewMemoryIndex(), store.NewMemoryStore(), WithMetrics(m))

	_, _ = e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	_, _ = e.Apply(ctx, Upsert("id1", "LA Galaxy"))
	_, _ = e.Apply(ctx, Delete(""))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues("created", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues("updated", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues("unknown", "rejected")))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    Timestamp
		wantErr bool
	}{
		{"1700000000123456789.0000000001", Timestamp{Wall: 1700000000123456789, Logical: 1}, false},
		{"42", Timestamp{Wall: 42}, false},
		{"42.", Timestamp{Wall: 42}, false},
		{"abc.1", Timestamp{}, true},
		{"1.x", Timestamp{}, true},
		{"", Timestamp{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	a := Timestamp{Wall: 1, Logical: 2}
	assert.True(t, Timestamp{Wall: 1, Logical: 1}.Before(a))
	assert.False(t, a.Before(a))
	assert.Equal(t, "1.0000000002", a.String())
}
