package search

import (
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
)

// Ranker reorders merged results by BM25 relevance to the queries using an
// in-memory bleve index built per call.
type Ranker struct {
	TopK int
}

type rankDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Rank returns at most TopK results, most relevant first. Results that do
// not match any query term keep their relative order after the matches.
func (r Ranker) Rank(queries []string, results []Result) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, res := range results {
		body := res.Content
		if res.RawContent != "" {
			body += "\n" + res.RawContent
		}
		if err := batch.Index(strconv.Itoa(i), rankDoc{Title: res.Title, Content: body}); err != nil {
			return nil, err
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, err
	}

	query := bleve.NewMatchQuery(strings.Join(queries, " "))
	req := bleve.NewSearchRequestOptions(query, len(results), 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results))
	used := make(map[int]bool, len(results))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || used[i] {
			continue
		}
		used[i] = true
		ranked := results[i]
		ranked.Score = hit.Score
		out = append(out, ranked)
	}
	for i, res := range results {
		if !used[i] {
			out = append(out, res)
		}
	}
	if r.TopK > 0 && len(out) > r.TopK {
		out = out[:r.TopK]
	}
	return out, nil
}
