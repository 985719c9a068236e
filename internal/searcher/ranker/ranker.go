// Package ranker scores candidates by n-gram overlap with a query.
//
// For a query sequence q and candidate sequence c:
//
//	overlap = |distinct(q) ∩ distinct(c)|
//	delta   = 1 + |len(c) - len(q)|
//	score   = (100 * overlap / delta) / len(q)
//
// Scores fall in [0, 100]; only an identical sequence without repeated
// n-grams reaches 100.
package ranker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
)

// ScoredDoc is one ranked record. On the wire the score is a string with
// four decimal places: {"pk": "...", "name": "...", "score": "42.8571"}.
type ScoredDoc struct {
	ID    string
	Name  string
	Score float64
}

type wireDoc struct {
	PK    string `json:"pk"`
	Name  string `json:"name"`
	Score string `json:"score"`
}

func (d ScoredDoc) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDoc{PK: d.ID, Name: d.Name, Score: d.FormattedScore()})
}

func (d *ScoredDoc) UnmarshalJSON(data []byte) error {
	var w wireDoc
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	score, err := strconv.ParseFloat(w.Score, 64)
	if err != nil {
		return fmt.Errorf("parsing score %q: %w", w.Score, err)
	}
	*d = ScoredDoc{ID: w.PK, Name: w.Name, Score: score}
	return nil
}

// FormattedScore renders the score with four decimal places.
func (d ScoredDoc) FormattedScore() string {
	return FormatScore(d.Score)
}

func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

// Overlap counts the distinct n-grams present in both sets.
func Overlap(query, candidate map[string]struct{}) int {
	small, large := query, candidate
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for g := range small {
		if _, ok := large[g]; ok {
			n++
		}
	}
	return n
}

// Score computes the similarity of a candidate sequence to a query
// sequence. An empty query scores 0.
func Score(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	overlap := Overlap(tokenizer.Distinct(query), tokenizer.Distinct(candidate))
	return fromOverlap(overlap, len(candidate), len(query))
}

func fromOverlap(overlap, candidateLen, queryLen int) float64 {
	delta := 1 + abs(candidateLen-queryLen)
	raw := 100 * float64(overlap) / float64(delta)
	return raw / float64(queryLen)
}

// Rank scores every candidate, sorts by score descending keeping the input
// order among equal scores, and truncates to limit when limit > 0.
// Candidates without any shared n-gram are dropped.
func Rank(query []string, candidates []index.Candidate, limit int) []ScoredDoc {
	if len(query) == 0 || len(candidates) == 0 {
		return []ScoredDoc{}
	}
	querySet := tokenizer.Distinct(query)
	result := make([]ScoredDoc, 0, len(candidates))
	for _, c := range candidates {
		overlap := Overlap(querySet, tokenizer.Distinct(c.Ngrams))
		if overlap == 0 {
			continue
		}
		result = append(result, ScoredDoc{
			ID:    c.ID,
			Score: fromOverlap(overlap, len(c.Ngrams), len(query)),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
