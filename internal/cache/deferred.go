package cache

// deferredQueue is an insertion-ordered map of pending saves.
// Re-queuing a key replaces its item but keeps its position.
type deferredQueue struct {
	order []string
	items map[string]*Item
}

func (q *deferredQueue) put(item *Item) {
	if q.items == nil {
		q.items = make(map[string]*Item)
	}
	if _, ok := q.items[item.Key()]; !ok {
		q.order = append(q.order, item.Key())
	}
	q.items[item.Key()] = item
}

func (q *deferredQueue) len() int {
	return len(q.order)
}

// drain empties the queue and returns its items in order
func (q *deferredQueue) drain() []*Item {
	items := make([]*Item, 0, len(q.order))
	for _, key := range q.order {
		items = append(items, q.items[key])
	}
	q.order = nil
	q.items = nil
	return items
}

// commitDeferred runs save over every drained item and collects the outcomes
func commitDeferred(items []*Item, save func(*Item) error) CommitResult {
	results := make(CommitResult, 0, len(items))
	for _, item := range items {
		results = append(results, SaveResult{Key: item.Key(), Err: save(item)})
	}
	return results
}
