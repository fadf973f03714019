package store

import "slices"

// column is one [start, start+timeframe) slice of the sliding window
type column struct {
	start   int64
	buckets map[int64][]string // price bucket -> order ids in insertion order
}

func newColumn(start int64) *column {
	return &column{start: start, buckets: make(map[int64][]string)}
}

func (c *column) add(bucket int64, orderID string) {
	c.buckets[bucket] = append(c.buckets[bucket], orderID)
}

func (c *column) remove(bucket int64, orderID string) bool {
	ids := c.buckets[bucket]
	i := slices.Index(ids, orderID)
	if i < 0 {
		return false
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		delete(c.buckets, bucket)
	} else {
		c.buckets[bucket] = ids
	}
	return true
}

// orderIDs returns every id in the column, buckets ascending
func (c *column) orderIDs() []string {
	buckets := make([]int64, 0, len(c.buckets))
	for b := range c.buckets {
		buckets = append(buckets, b)
	}
	slices.Sort(buckets)

	var out []string
	for _, b := range buckets {
		out = append(out, c.buckets[b]...)
	}
	return out
}

func (c *column) size() int {
	n := 0
	for _, ids := range c.buckets {
		n += len(ids)
	}
	return n
}

// ColumnInfo is a read-only view of a column
type ColumnInfo struct {
	Start  int64 `json:"start"`
	End    int64 `json:"end"`
	Orders int   `json:"orders"`
}

// AlignDown returns floor(ts / tf) * tf, also for negative ts
func AlignDown(ts, tf int64) int64 {
	q := ts / tf
	if ts%tf != 0 && ts < 0 {
		q--
	}
	return q * tf
}
