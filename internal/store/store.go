package store

import (
	"slices"
	"sort"
)

type indexEntry struct {
	colStart int64
	bucket   int64
}

// Store is the ephemeral order store of one orderbook: a sliding window of
// fixed-width time columns holding price-bucketed order ids.
// Not thread-safe: only accessed under the owning orderbook's lock.
type Store struct {
	cfg     Config
	columns []*column
	orders  map[string]*Order
	indexed map[string]indexEntry
}

func New(cfg Config) *Store {
	return &Store{
		cfg:     cfg,
		orders:  make(map[string]*Order),
		indexed: make(map[string]indexEntry),
	}
}

func (s *Store) Config() Config { return s.cfg }

// Place validates and inserts a new order. The store owns o afterwards.
func (s *Store) Place(o *Order, now int64) (*Order, *Rejection) {
	if _, exists := s.orders[o.ID]; exists {
		return nil, Reject(ReasonOrderExists)
	}
	if r := validateAmounts(o.SizeTotal, o.CollateralRequired); r != nil {
		return nil, r
	}
	if r := s.validatePlacement(o, now, s.cfg.placeLead()); r != nil {
		return nil, r
	}

	o.OrderbookID = s.cfg.OrderbookID
	o.ContractType = s.cfg.ContractType
	o.SizeRemaining = o.SizeTotal
	o.CollateralFilled = 0
	o.PendingPositions = nil
	o.Status = StatusActive
	o.CancelOnly = false
	o.Version = 1
	o.PlacedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = o
	s.register(o, now)
	return o, nil
}

// Update applies transform to a copy of the order, validates it with the
// update buffer, runs commit (may veto) and then swaps the copy in.
// Identity, fill progress and pending positions cannot be changed by transform.
func (s *Store) Update(
	orderID string,
	now int64,
	transform func(*Order),
	commit func(prev, next *Order) *Rejection,
) (*Order, *Rejection) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, Reject(ReasonOrderNotFound)
	}
	if !o.Status.IsLive() {
		return nil, Reject(ReasonOrderNotActive)
	}
	if o.CancelOnly {
		return nil, Reject(ReasonOrderCancelOnly)
	}

	next := o.Clone()
	transform(next)

	next.ID = o.ID
	next.OrderbookID = o.OrderbookID
	next.ContractType = o.ContractType
	next.MakerID = o.MakerID
	next.CollateralFilled = o.CollateralFilled
	next.PendingPositions = slices.Clone(o.PendingPositions)
	next.Status = o.Status
	next.CancelOnly = o.CancelOnly
	next.PlacedAt = o.PlacedAt

	if r := validateAmounts(next.SizeTotal, next.CollateralRequired); r != nil {
		return nil, r
	}
	filled := o.SizeFilled()
	if next.SizeTotal < filled {
		return nil, Reject(ReasonUpdateBelowFilled,
			"size_filled", filled, "requested_size_total", next.SizeTotal)
	}
	if next.CollateralRequired < o.CollateralFilled {
		return nil, Reject(ReasonUpdateBelowFilled,
			"collateral_filled", o.CollateralFilled, "requested_collateral", next.CollateralRequired)
	}
	if r := s.validatePlacement(next, now, s.cfg.updateLead()); r != nil {
		return nil, r
	}
	next.SizeRemaining = next.SizeTotal - filled

	if commit != nil {
		if r := commit(o, next); r != nil {
			return nil, r
		}
	}

	next.Version = o.Version + 1
	next.UpdatedAt = now
	next.refreshStatus()

	reindex := o.PriceBucket != next.PriceBucket || o.FillWindow != next.FillWindow ||
		!next.Status.IsLive()
	if reindex {
		s.unregister(orderID)
	}
	*o = *next
	if reindex && o.Status.IsLive() {
		s.register(o, now)
	}
	return o, nil
}

// Cancel marks the order CANCELLED and removes it from the column index.
// The record is kept while positions are pending, so a repeat cancel succeeds;
// once fully removed a repeat cancel reports order_not_found.
func (s *Store) Cancel(orderID string, now int64) (*Order, *Rejection) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, Reject(ReasonOrderNotFound)
	}
	if o.Status == StatusCancelled {
		return o, nil
	}
	if !o.Status.IsLive() {
		return nil, Reject(ReasonOrderNotActive)
	}

	o.Status = StatusCancelled
	o.CancelOnly = true
	o.SizeRemaining = 0
	o.Version++
	o.UpdatedAt = now
	s.unregister(orderID)

	if !o.HasPending() {
		delete(s.orders, orderID)
	}
	return o, nil
}

// ApplyFill records an authorized fill: size leaves the order, collateral is
// added to collateralFilled. A fully filled order leaves the column index.
func (s *Store) ApplyFill(orderID string, size, collateral, now int64) (*Order, *Rejection) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, Reject(ReasonOrderNotFound)
	}
	if o.CancelOnly || !o.Status.IsLive() {
		return nil, Reject(ReasonOrderCancelOnly)
	}
	if size <= 0 || size > o.SizeRemaining {
		return nil, Reject(ReasonInvalidSize, "size", size, "size_remaining", o.SizeRemaining)
	}

	o.SizeRemaining -= size
	o.CollateralFilled += collateral
	o.Version++
	o.UpdatedAt = now
	o.refreshStatus()
	if o.SizeRemaining == 0 {
		s.unregister(orderID)
	}
	return o, nil
}

// MarkCancelOnly stops further fills. Reports whether the flag was newly set.
// If the trigger window has also elapsed the order becomes EXPIRED.
func (s *Store) MarkCancelOnly(orderID string, now int64) (*Order, bool) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false
	}
	changed := !o.CancelOnly
	if changed {
		o.CancelOnly = true
		o.Version++
		o.UpdatedAt = now
		s.unregister(orderID)
	}
	if o.TriggerWindow.Elapsed(now) && o.Status.IsLive() {
		o.Status = StatusExpired
	}
	return o, changed
}

func (s *Store) AttachPendingPosition(orderID, positionID string) bool {
	o, ok := s.orders[orderID]
	if !ok {
		return false
	}
	o.PendingPositions = append(o.PendingPositions, positionID)
	return true
}

// ResolvePendingPosition drops the pending reference. A cancelled order with
// nothing left pending is removed from the store.
func (s *Store) ResolvePendingPosition(orderID, positionID string) bool {
	o, ok := s.orders[orderID]
	if !ok {
		return false
	}
	i := slices.Index(o.PendingPositions, positionID)
	if i < 0 {
		return false
	}
	o.PendingPositions = slices.Delete(o.PendingPositions, i, i+1)
	if o.Status == StatusCancelled && !o.HasPending() {
		delete(s.orders, orderID)
	}
	return true
}

// Deregister removes the order from the column index but keeps the record
func (s *Store) Deregister(orderID string) {
	s.unregister(orderID)
}

// Remove deletes the order record and its index entry
func (s *Store) Remove(orderID string) {
	s.unregister(orderID)
	delete(s.orders, orderID)
}

// Get returns the live order. Callers must hold the orderbook lock.
func (s *Store) Get(orderID string) (*Order, bool) {
	o, ok := s.orders[orderID]
	return o, ok
}

// IsIndexed reports whether the order is still eligible for fills by placement
func (s *Store) IsIndexed(orderID string) bool {
	_, ok := s.indexed[orderID]
	return ok
}

// ColumnOf returns the column the order is indexed in
func (s *Store) ColumnOf(orderID string) (ColumnInfo, bool) {
	e, ok := s.indexed[orderID]
	if !ok {
		return ColumnInfo{}, false
	}
	for _, c := range s.columns {
		if c.start == e.colStart {
			return ColumnInfo{Start: c.start, End: c.start + s.cfg.TimeframeMs, Orders: c.size()}, true
		}
	}
	return ColumnInfo{}, false
}

// PendingDue returns orders with pending positions whose trigger window contains now
func (s *Store) PendingDue(now int64) []*Order {
	var out []*Order
	for _, o := range s.orders {
		if o.HasPending() && o.TriggerWindow.Contains(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns copies of every order, ordered by cmp (by id when nil)
func (s *Store) Snapshot(cmp func(a, b *Order) int) []*Order {
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	if cmp == nil {
		cmp = func(a, b *Order) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		}
	}
	slices.SortStableFunc(out, cmp)
	return out
}

// Columns lists the current window
func (s *Store) Columns() []ColumnInfo {
	out := make([]ColumnInfo, 0, len(s.columns))
	for _, c := range s.columns {
		out = append(out, ColumnInfo{Start: c.start, End: c.start + s.cfg.TimeframeMs, Orders: c.size()})
	}
	return out
}

func (s *Store) Len() int { return len(s.orders) }

// LiveCount returns how many orders are still indexed
func (s *Store) LiveCount() int { return len(s.indexed) }

// --- validation ---

func validateAmounts(sizeTotal, collateralRequired int64) *Rejection {
	if sizeTotal <= 0 {
		return Reject(ReasonInvalidSize, "size_total", sizeTotal)
	}
	if collateralRequired < 0 {
		return Reject(ReasonInvalidCollateral, "collateral_required", collateralRequired)
	}
	return nil
}

func (s *Store) validatePlacement(o *Order, now, lead int64) *Rejection {
	earliest := now + lead
	if o.FillWindow.Start < earliest {
		return Reject(ReasonFillWindowTooSoon,
			"earliest_start", earliest, "requested_start", o.FillWindow.Start)
	}
	if o.FillWindow.End <= o.FillWindow.Start {
		return Reject(ReasonFillWindowInvalid,
			"start", o.FillWindow.Start, "end", o.FillWindow.End)
	}
	horizonEnd := now + s.cfg.Horizon()
	if o.FillWindow.End > horizonEnd {
		return Reject(ReasonFillWindowBeyondHorizon,
			"horizon_end", horizonEnd, "requested_end", o.FillWindow.End)
	}
	if o.TriggerWindow.End <= o.TriggerWindow.Start {
		return Reject(ReasonTriggerWindowInvalid,
			"start", o.TriggerWindow.Start, "end", o.TriggerWindow.End)
	}
	if o.PriceBucket < s.cfg.MinBucket || o.PriceBucket > s.cfg.MaxBucket {
		return Reject(ReasonPriceBucketOutOfRange,
			"min_bucket", s.cfg.MinBucket, "max_bucket", s.cfg.MaxBucket, "price_bucket", o.PriceBucket)
	}
	if (o.PriceBucket-s.cfg.MinBucket)%s.cfg.PriceStep != 0 {
		return Reject(ReasonPriceBucketMisaligned,
			"price_step", s.cfg.PriceStep, "min_bucket", s.cfg.MinBucket, "price_bucket", o.PriceBucket)
	}
	return nil
}

// --- column index ---

func (s *Store) register(o *Order, now int64) {
	col := s.columnFor(o.FillWindow.Start, now)
	col.add(o.PriceBucket, o.ID)
	s.indexed[o.ID] = indexEntry{colStart: col.start, bucket: o.PriceBucket}
}

func (s *Store) unregister(orderID string) {
	e, ok := s.indexed[orderID]
	if !ok {
		return
	}
	delete(s.indexed, orderID)
	for _, c := range s.columns {
		if c.start == e.colStart {
			c.remove(e.bucket, orderID)
			return
		}
	}
}

// columnFor clamps ts to the window start and walks the columns, appending
// any missing ones up to ts.
func (s *Store) columnFor(ts, now int64) *column {
	s.extend(now)
	tf := s.cfg.TimeframeMs
	if first := s.columns[0].start; ts < first {
		ts = first
	}
	for last := s.columns[len(s.columns)-1]; last.start+tf <= ts; last = s.columns[len(s.columns)-1] {
		s.columns = append(s.columns, newColumn(last.start+tf))
	}
	for _, c := range s.columns {
		if ts < c.start+tf {
			return c
		}
	}
	return s.columns[len(s.columns)-1]
}

// extend appends columns until [now, now+horizon) is covered
func (s *Store) extend(now int64) {
	tf := s.cfg.TimeframeMs
	if len(s.columns) == 0 {
		s.columns = append(s.columns, newColumn(AlignDown(now, tf)))
	}
	target := now + s.cfg.Horizon()
	for last := s.columns[len(s.columns)-1]; last.start+tf < target; last = s.columns[len(s.columns)-1] {
		s.columns = append(s.columns, newColumn(last.start+tf))
	}
}
