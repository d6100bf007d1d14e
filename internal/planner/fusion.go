package planner

import (
	"sort"
	"time"
)

// Candidate is one span hit from a single retrieval channel, ranked
// best-first within that channel.
type Candidate struct {
	SpanHash string
	FilePath string
	Symbol   string
	Score    float64
	// ModTime of the owning file, used only for tie-breaking.
	ModTime time.Time
}

// RankedList is one channel's ordered candidates.
type RankedList struct {
	Channel    string
	Candidates []Candidate
}

// FusedResult is a span after reciprocal rank fusion.
type FusedResult struct {
	SpanHash string             `json:"span_hash"`
	FilePath string             `json:"file_path"`
	Symbol   string             `json:"symbol"`
	Score    float64            `json:"score"`
	Channels map[string]float64 `json:"channels"`
	ModTime  time.Time          `json:"-"`
}

// FuseRRF merges ranked lists with reciprocal rank fusion:
// score(s) = sum over lists of 1/(k + rank(s)). The sum is order
// independent, so list order never changes the output, and adding a list
// can only raise a span's score. Ties break by file recency, newest
// first, then by file path.
func FuseRRF(lists []RankedList, k int) []FusedResult {
	if k <= 0 {
		k = 60
	}

	byHash := make(map[string]*FusedResult)
	for _, list := range lists {
		for rank, c := range list.Candidates {
			f, ok := byHash[c.SpanHash]
			if !ok {
				f = &FusedResult{
					SpanHash: c.SpanHash,
					FilePath: c.FilePath,
					Symbol:   c.Symbol,
					ModTime:  c.ModTime,
					Channels: make(map[string]float64),
				}
				byHash[c.SpanHash] = f
			}
			contrib := 1.0 / float64(k+rank+1)
			f.Score += contrib
			f.Channels[list.Channel] = c.Score
		}
	}

	out := make([]FusedResult, 0, len(byHash))
	for _, f := range byHash {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].SpanHash < out[j].SpanHash
	})
	return out
}
