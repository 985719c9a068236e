package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenizeCmd(t *testing.T) {
	out, err := run(t, "", "tokenize", "LA", "Galaxy")
	require.NoError(t, err)
	assert.Equal(t, "\"la \"\n\"a g\"\n\" ga\"\n\"gal\"\n\"ala\"\n\"lax\"\n\"axy\"\n", out)

	out, err = run(t, "", "tokenize", "--n", "2", "--json", "Ab-c")
	require.NoError(t, err)
	assert.JSONEq(t, `["ab","b-","-c"]`, out)

	out, err = run(t, "", "tokenize", "--fold", "--json", "a--b")
	require.NoError(t, err)
	assert.JSONEq(t, `["a b"]`, out)
}

func TestPrettyCmd(t *testing.T) {
	in := `{"b":1,"a":{"d":2.50,"c":[1,2]}}` + "\n\n" + `{"z":null}` + "\n"
	out, err := run(t, in, "pretty")
	require.NoError(t, err)
	want := `{
  "a": {
    "c": [
      1,
      2
    ],
    "d": 2.50
  },
  "b": 1
}
{
  "z": null
}
`
	assert.Equal(t, want, out)

	_, err = run(t, "{not json}\n", "pretty")
	assert.ErrorContains(t, err, "line 1")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const events = `{"id":"id1","text":"LA Galaxy","updated":"1.0"}
{"id":"id2","text":"LA Galaxy II"}
{"id":"id3","text":"LA Giltinis"}
{"id":"id4","text":"Seattle Sounders"}
{"id":"id4","text":null}
{"text":"orphan"}
`

func TestReplaySummary(t *testing.T) {
	out, err := run(t, "", "replay", "--format", "json", writeFile(t, events))
	require.NoError(t, err)

	var s replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 6, s.Lines)
	assert.Equal(t, 3, s.Records)
	assert.Equal(t, 4, s.Outcomes["created"]["applied"])
	assert.Equal(t, 1, s.Outcomes["deleted"]["applied"])
	assert.Equal(t, 1, s.Outcomes["unknown"]["rejected"])
}

func TestReplayQuery(t *testing.T) {
	out, err := run(t, "", "replay", "--format", "json", "--query", "PA Galuxy", writeFile(t, events))
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"pk":"id1","name":"LA Galaxy","score":"42.8571"},
		{"pk":"id2","name":"LA Galaxy II","score":"10.7143"},
		{"pk":"id3","name":"LA Giltinis","score":"4.7619"}
	]`, out)

	out, err = run(t, "", "replay", "--query", "PA Galuxy", "--limit", "1", writeFile(t, events))
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 6 events: 3 records")
	assert.Contains(t, out, "42.8571")
	assert.NotContains(t, out, "10.7143")
}

func TestReplayRowsFromStdin(t *testing.T) {
	rows := `{"after":{"id":"id1","name":"LA Galaxy"},"key":["id1"],"updated":"2.0"}
{"after":{"id":"id1","name":"Old Name"},"key":["id1"],"updated":"1.0"}
{"after":null,"key":["id2"]}
`
	out, err := run(t, rows, "replay", "--input", "rows", "--ordering", "--format", "json", "-")
	require.NoError(t, err)

	var s replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.Records)
	assert.Equal(t, 1, s.Outcomes["created"]["applied"])
	assert.Equal(t, 1, s.Outcomes["updated"]["stale"])
	assert.Equal(t, 1, s.Outcomes["deleted"]["unchanged"])
}

func TestReplayRejectsUnknownInput(t *testing.T) {
	_, err := run(t, "", "replay", "--input", "csv", writeFile(t, events))
	assert.ErrorContains(t, err, "unknown input format")
}

func TestSearchCmd(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"pk":"id1","name":"LA Galaxy","score":"42.8571"}]`))
	}))
	defer srv.Close()

	out, err := run(t, "", "search", "--addr", srv.URL, "--limit", "3", "PA", "Galuxy")
	require.NoError(t, err)
	assert.Equal(t, "/search/UEEgR2FsdXh5/3", gotPath)
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "42.8571  id1")
	assert.Contains(t, out, "LA Galaxy")
}

func TestSearchCmdReportsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"limit must be a positive integer"}`))
	}))
	defer srv.Close()

	_, err := run(t, "", "search", "--addr", srv.URL, "--limit", "0", "galaxy")
	assert.ErrorContains(t, err, "limit must be a positive integer")
}

func TestSchemaCmd(t *testing.T) {
	out, err := run(t, "", "schema", "--table", "clubs")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "clubs"`)
	assert.Contains(t, out, `"clubs_grams_idx"`)
}

func TestLoadTestCmd(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/search/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	out, err := run(t, "", "loadtest", "--addr", srv.URL, "-c", "2", "-d", "200ms", "--rps", "50", "-q", "LA Galaxy")
	require.NoError(t, err)
	assert.Contains(t, out, "Total Requests:")
	assert.Contains(t, out, "  200: ")
	assert.Positive(t, hits.Load())
	assert.LessOrEqual(t, hits.Load(), int64(15))
}

func TestLatencyPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), latencyPercentile(sorted, 50))
	assert.Equal(t, time.Duration(10), latencyPercentile(sorted, 99))
	assert.Equal(t, time.Duration(0), latencyPercentile(nil, 50))
}
