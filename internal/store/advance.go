package store

import "sort"

// AdvanceResult reports what a clock advance removed or restricted
type AdvanceResult struct {
	// Orders removed from the store; their collateral must be released by the caller
	Dropped []*Order
	// Orders that became cancel-only because their fill window elapsed
	CancelOnly []*Order
	// Columns evicted from the window
	Evicted []ColumnInfo
}

func (r AdvanceResult) DroppedIDs() []string {
	ids := make([]string, 0, len(r.Dropped))
	for _, o := range r.Dropped {
		ids = append(ids, o.ID)
	}
	return ids
}

// Advance moves the window to now: evicts columns with end <= now, drops
// orders whose trigger window elapsed, carries the rest into the first
// remaining column, marks orders past their fill window cancel-only and
// extends the window to cover [now, now+horizon).
// Several elapsed columns are caught up in one call.
func (s *Store) Advance(now int64) AdvanceResult {
	var res AdvanceResult
	tf := s.cfg.TimeframeMs

	var carried []string
	k := 0
	for ; k < len(s.columns); k++ {
		c := s.columns[k]
		if c.start+tf > now {
			break
		}
		res.Evicted = append(res.Evicted, ColumnInfo{Start: c.start, End: c.start + tf, Orders: c.size()})
		for _, id := range c.orderIDs() {
			delete(s.indexed, id)
			carried = append(carried, id)
		}
	}
	s.columns = s.columns[k:]
	s.extend(now)

	first := s.columns[0]
	for _, id := range carried {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		if o.TriggerWindow.Elapsed(now) {
			s.drop(o, &res)
			continue
		}
		first.add(o.PriceBucket, id)
		s.indexed[id] = indexEntry{colStart: first.start, bucket: o.PriceBucket}
	}

	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := s.orders[id]
		if o.TriggerWindow.Elapsed(now) {
			s.drop(o, &res)
			continue
		}
		if !o.FillWindow.Elapsed(now) || o.CancelOnly {
			continue
		}
		if !o.Status.IsLive() {
			// Filled orders wait for their positions; they only leave the index
			s.unregister(id)
			continue
		}
		o.CancelOnly = true
		o.Version++
		o.UpdatedAt = now
		s.unregister(id)
		res.CancelOnly = append(res.CancelOnly, o)
	}

	return res
}

func (s *Store) drop(o *Order, res *AdvanceResult) {
	s.unregister(o.ID)
	delete(s.orders, o.ID)
	if o.Status.IsLive() {
		o.Status = StatusExpired
	}
	o.CancelOnly = true
	res.Dropped = append(res.Dropped, o)
}
