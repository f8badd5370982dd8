package parsers

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
)

// ConcurrentParser parses several payroll files at once
type ConcurrentParser struct {
	parser         *Parser
	maxConcurrency int
}

// NewConcurrentParser creates a concurrent parser around p
func NewConcurrentParser(p *Parser, maxConcurrency int) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ConcurrentParser{parser: p, maxConcurrency: maxConcurrency}
}

// ConcurrentParseResult holds the outcome for one file
type ConcurrentParseResult struct {
	FilePath string
	Groups   []models.Group
	Stats    *ParseStats
	Error    error
}

// ParseFiles parses every path and returns the results in input order.
// A failing file does not stop the others.
func (cp *ConcurrentParser) ParseFiles(ctx context.Context, paths []string) []*ConcurrentParseResult {
	results := make([]*ConcurrentParseResult, len(paths))

	p := pool.New().WithMaxGoroutines(cp.maxConcurrency)
	for i, path := range paths {
		i, path := i, path
		p.Go(func() {
			groups, stats, err := cp.parser.ParseFile(ctx, path)
			results[i] = &ConcurrentParseResult{FilePath: path, Groups: groups, Stats: stats, Error: err}
		})
	}
	p.Wait()

	return results
}

// Groups concatenates the groups of every successful result. The first
// failure, if any, is returned alongside.
func Groups(results []*ConcurrentParseResult) ([]models.Group, error) {
	var groups []models.Group
	var firstErr error
	for _, r := range results {
		if r.Error != nil {
			if firstErr == nil {
				firstErr = r.Error
			}
			continue
		}
		groups = append(groups, r.Groups...)
	}
	return groups, firstErr
}
