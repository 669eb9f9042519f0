package newsapi

import (
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/source"
)

// batch is one shared fetch result. Each member is served once; the batch is
// exhausted when no member is pending.
type batch struct {
	pending map[string]bool
	covered map[string]bool
	results map[string][]source.RawArticle
	seen    map[string]map[string]bool // per-endpoint URL dedupe
	errs    map[string]error

	requests            int
	requestLimitReached bool
}

func newBatch(members []domain.SourceEndpoint) *batch {
	b := &batch{
		pending: make(map[string]bool, len(members)),
		covered: make(map[string]bool, len(members)),
		results: make(map[string][]source.RawArticle, len(members)),
		seen:    make(map[string]map[string]bool, len(members)),
		errs:    make(map[string]error),
	}
	for _, m := range members {
		b.pending[m.ID] = true
	}
	return b
}

func (b *batch) isPending(endpointID string) bool {
	return b.pending[endpointID]
}

func (b *batch) cover(endpointID string) {
	b.covered[endpointID] = true
}

func (b *batch) fail(endpointID string, err error) {
	if _, ok := b.errs[endpointID]; !ok {
		b.errs[endpointID] = err
	}
}

func (b *batch) add(endpointID string, item source.RawArticle) {
	if item.URL == "" {
		return
	}
	seen := b.seen[endpointID]
	if seen == nil {
		seen = make(map[string]bool)
		b.seen[endpointID] = seen
	}
	if seen[item.URL] {
		return
	}
	seen[item.URL] = true
	b.results[endpointID] = append(b.results[endpointID], item)
}

// take serves endpointID's share and removes it from the pending set.
// Members the batch never reached are deferred with an empty result.
func (b *batch) take(endpointID string) ([]source.RawArticle, error) {
	delete(b.pending, endpointID)
	if err, ok := b.errs[endpointID]; ok {
		return nil, err
	}
	if !b.covered[endpointID] {
		return []source.RawArticle{}, nil
	}
	items := b.results[endpointID]
	delete(b.results, endpointID)
	if items == nil {
		items = []source.RawArticle{}
	}
	return items, nil
}

func (b *batch) exhausted() bool {
	return len(b.pending) == 0
}
