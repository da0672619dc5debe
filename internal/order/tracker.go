package order

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"momentum-trader/internal/events"
)

var log = logrus.WithField("component", "order")

// Publisher receives tracker changes. Implementations must not block.
type Publisher interface {
	Publish(topic events.Topic, payload any)
}

type entry struct {
	proj    Projection
	dealIDs map[string]struct{}
}

type note struct {
	topic   events.Topic
	payload any
}

// Tracker is the order lifecycle state machine. It reduces an unordered,
// at-least-once stream of status updates and deals into one projection per
// order. Every mutation happens under a single lock; reads return copies.
type Tracker struct {
	mu        sync.RWMutex
	orders    map[string]*entry
	byStatus  map[Status]map[string]struct{}
	anomalies []Anomaly

	pub     Publisher
	now     func() time.Time
	onApply func(time.Duration)
	applied atomic.Uint64
}

type TrackerOption func(*Tracker)

// WithPublisher forwards accepted changes and anomalies to p after each event.
func WithPublisher(p Publisher) TrackerOption {
	return func(t *Tracker) { t.pub = p }
}

// WithClock overrides the clock used to stamp anomalies.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithApplyHook is called with the handling time of every event consumed by Run.
func WithApplyHook(fn func(time.Duration)) TrackerOption {
	return func(t *Tracker) { t.onApply = fn }
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{now: time.Now}
	t.resetLocked()
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) resetLocked() {
	t.orders = make(map[string]*entry)
	t.byStatus = make(map[Status]map[string]struct{}, len(AllStatuses))
	for _, s := range AllStatuses {
		t.byStatus[s] = make(map[string]struct{})
	}
	t.anomalies = nil
}

// Register records a freshly submitted order in Pending. If events for the
// order arrived first, the event-only projection is adopted and its
// unknown-order anomalies are marked resolved.
func (t *Tracker) Register(o Order) error {
	if o.ID == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidOrder)
	}
	t.mu.Lock()
	e, ok := t.orders[o.ID]
	if ok && e.proj.Registered {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	var notes []note
	if ok {
		e.proj.Order = o
		e.proj.Registered = true
		for i := range t.anomalies {
			if t.anomalies[i].OrderID == o.ID && t.anomalies[i].Kind == AnomalyUnknownOrder {
				t.anomalies[i].Resolved = true
			}
		}
		// Fills applied before the order was known were never checked
		// against the requested quantity.
		if filled := max(e.proj.DealQty, e.proj.CumulativeQty); o.RequestedQty > 0 && filled > o.RequestedQty {
			a := t.recordLocked(Anomaly{
				Kind: AnomalyOverfill, OrderID: o.ID,
				Detail: fmt.Sprintf("filled %d (deals %d, cumulative %d) before registration exceeds requested %d",
					filled, e.proj.DealQty, e.proj.CumulativeQty, o.RequestedQty),
			})
			notes = append(notes, note{events.TopicAnomaly, a})
		}
		log.Debugf("tracker: adopted %s (status %s)", o.ID, e.proj.Status)
	} else {
		at := o.SubmittedAt
		if at.IsZero() {
			at = t.now()
		}
		e = t.insertLocked(o, true, at)
	}
	snap := e.proj.clone()
	t.mu.Unlock()

	t.publish(append([]note{{events.TopicOrderAccepted, snap}}, notes...))
	return nil
}

// OnOrderEvent applies one status update. It is idempotent under exact
// duplicates and never lets the status leave a terminal state or the
// cumulative quantity decrease.
func (t *Tracker) OnOrderEvent(u OrderUpdate) Outcome {
	t.mu.Lock()
	out, notes := t.applyUpdateLocked(u)
	t.mu.Unlock()
	t.publish(notes)
	return out
}

func (t *Tracker) applyUpdateLocked(u OrderUpdate) (Outcome, []note) {
	var out Outcome
	var notes []note
	reject := func(kind AnomalyKind, format string, args ...any) (Outcome, []note) {
		a := t.recordLocked(Anomaly{Kind: kind, OrderID: u.OrderID, Detail: fmt.Sprintf(format, args...), Update: &u})
		out.Anomalies = append(out.Anomalies, a)
		return out, append(notes, note{events.TopicAnomaly, a})
	}

	if u.OrderID == "" || !u.Status.Valid() || u.CumulativeQty < 0 {
		return reject(AnomalyMalformed, "malformed update status=%q cum=%d", u.Status, u.CumulativeQty)
	}

	e, ok := t.orders[u.OrderID]
	if !ok {
		e = t.insertLocked(Order{ID: u.OrderID}, false, u.Timestamp)
		a := t.recordLocked(Anomaly{Kind: AnomalyUnknownOrder, OrderID: u.OrderID, Detail: "status update for unregistered order", Update: &u})
		out.Anomalies = append(out.Anomalies, a)
		notes = append(notes, note{events.TopicAnomaly, a})
	}
	p := &e.proj

	if n := len(p.History); n > 0 {
		last := p.History[n-1]
		if last.Status == u.Status && last.CumulativeQty == u.CumulativeQty {
			return reject(AnomalyDuplicateUpdate, "duplicate %s cum=%d", u.Status, u.CumulativeQty)
		}
	}
	if p.Status.IsTerminal() {
		return reject(AnomalyTerminalViolation, "%s after terminal %s", u.Status, p.Status)
	}
	if u.CumulativeQty < p.CumulativeQty {
		return reject(AnomalyRegressiveUpdate, "cumulative qty %d below recorded %d", u.CumulativeQty, p.CumulativeQty)
	}
	if !u.Status.IsTerminal() && u.Status.rank() < p.Status.rank() {
		return reject(AnomalyOutOfOrder, "%s after %s", u.Status, p.Status)
	}
	if p.RequestedQty > 0 && u.CumulativeQty > p.RequestedQty {
		a := t.recordLocked(Anomaly{
			Kind: AnomalyOverfill, OrderID: u.OrderID, Update: &u,
			Detail: fmt.Sprintf("cumulative qty %d exceeds requested %d", u.CumulativeQty, p.RequestedQty),
		})
		out.Anomalies = append(out.Anomalies, a)
		notes = append(notes, note{events.TopicAnomaly, a})
	}

	prev := p.Status
	p.History = append(p.History, u)
	p.Status = u.Status
	p.CumulativeQty = u.CumulativeQty
	if u.Timestamp.After(p.LastUpdateAt) {
		p.LastUpdateAt = u.Timestamp
	}
	t.moveLocked(u.OrderID, prev, u.Status)

	out.Accepted = true
	return out, append(notes, note{events.TopicOrderUpdate, u})
}

// OnDealEvent records a fill. Deals never change the order status; they
// are evidence for reconciliation.
func (t *Tracker) OnDealEvent(d Deal) Outcome {
	t.mu.Lock()
	out, notes := t.applyDealLocked(d)
	t.mu.Unlock()
	t.publish(notes)
	return out
}

func (t *Tracker) applyDealLocked(d Deal) (Outcome, []note) {
	var out Outcome
	var notes []note
	reject := func(kind AnomalyKind, format string, args ...any) (Outcome, []note) {
		a := t.recordLocked(Anomaly{Kind: kind, OrderID: d.OrderID, Detail: fmt.Sprintf(format, args...), Deal: &d})
		out.Anomalies = append(out.Anomalies, a)
		return out, append(notes, note{events.TopicAnomaly, a})
	}

	if d.OrderID == "" || d.Qty <= 0 {
		return reject(AnomalyMalformed, "malformed deal qty=%d", d.Qty)
	}

	e, ok := t.orders[d.OrderID]
	if !ok {
		e = t.insertLocked(Order{ID: d.OrderID}, false, d.Timestamp)
		a := t.recordLocked(Anomaly{Kind: AnomalyUnknownOrder, OrderID: d.OrderID, Detail: "deal for unregistered order", Deal: &d})
		out.Anomalies = append(out.Anomalies, a)
		notes = append(notes, note{events.TopicAnomaly, a})
	}
	p := &e.proj

	if d.DealID != "" {
		if _, seen := e.dealIDs[d.DealID]; seen {
			return reject(AnomalyDuplicateDeal, "deal %s already recorded", d.DealID)
		}
	}
	if p.RequestedQty > 0 && p.DealQty+d.Qty > p.RequestedQty {
		return reject(AnomalyOverfill, "deal qty %d would raise filled %d past requested %d", d.Qty, p.DealQty, p.RequestedQty)
	}

	p.Deals = append(p.Deals, d)
	p.DealQty += d.Qty
	if d.DealID != "" {
		e.dealIDs[d.DealID] = struct{}{}
	}

	out.Accepted = true
	return out, append(notes, note{events.TopicDeal, d})
}

// Apply dispatches one queued event.
func (t *Tracker) Apply(ev Event) Outcome {
	defer t.applied.Add(1)
	switch v := ev.(type) {
	case OrderUpdate:
		return t.OnOrderEvent(v)
	case Deal:
		return t.OnDealEvent(v)
	case *OrderUpdate:
		return t.OnOrderEvent(*v)
	case *Deal:
		return t.OnDealEvent(*v)
	}
	log.Warnf("tracker: unsupported event %T", ev)
	return Outcome{}
}

// Run is the single-consumer apply loop. It returns once q is closed and drained.
func (t *Tracker) Run(q *events.Queue[Event]) {
	q.Run(func(ev Event) {
		start := time.Now()
		t.Apply(ev)
		if t.onApply != nil {
			t.onApply(time.Since(start))
		}
	})
	log.Debug("tracker: apply loop stopped")
}

// Applied returns the number of events handled by Apply.
func (t *Tracker) Applied() uint64 {
	return t.applied.Load()
}

// GetOrder returns a copy of the order's projection.
func (t *Tracker) GetOrder(id string) (Projection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.orders[id]
	if !ok {
		return Projection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.proj.clone(), nil
}

// ListByStatus returns order ids in status s, oldest last update first.
func (t *Tracker) ListByStatus(s Status) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byStatus[s]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.orders[ids[i]].proj.LastUpdateAt, t.orders[ids[j]].proj.LastUpdateAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Summary counts orders per status. Every status is present.
func (t *Tracker) Summary() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		out[s] = len(t.byStatus[s])
	}
	return out
}

// Reconcile compares summed deals with the recorded cumulative fill. A nil
// discrepancy means they match.
func (t *Tracker) Reconcile(id string) (*Discrepancy, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return discrepancyOf(&e.proj), nil
}

// ReconcileAll returns every current discrepancy, sorted by order id.
func (t *Tracker) ReconcileAll() []Discrepancy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Discrepancy
	for _, e := range t.orders {
		if d := discrepancyOf(&e.proj); d != nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func discrepancyOf(p *Projection) *Discrepancy {
	if p.CumulativeQty == p.DealQty {
		return nil
	}
	return &Discrepancy{
		OrderID:       p.ID,
		CumulativeQty: p.CumulativeQty,
		DealQty:       p.DealQty,
		Difference:    p.CumulativeQty - p.DealQty,
	}
}

// Anomalies returns every recorded anomaly in observation order.
func (t *Tracker) Anomalies() []Anomaly {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneAnomalies(t.anomalies)
}

// Orders returns copies of all projections, sorted by id.
func (t *Tracker) Orders() []Projection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ordersLocked()
}

func (t *Tracker) ordersLocked() []Projection {
	out := make([]Projection, 0, len(t.orders))
	for _, e := range t.orders {
		out = append(out, e.proj.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// Archive hands back the session's projections and anomalies and clears the tracker.
func (t *Tracker) Archive() ([]Projection, []Anomaly) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orders := t.ordersLocked()
	anomalies := t.anomalies
	t.resetLocked()
	log.Infof("tracker: archived %d orders, %d anomalies", len(orders), len(anomalies))
	return orders, anomalies
}

func (t *Tracker) insertLocked(o Order, registered bool, at time.Time) *entry {
	e := &entry{
		proj: Projection{
			Order:        o,
			Status:       StatusPending,
			Registered:   registered,
			LastUpdateAt: at,
		},
		dealIDs: make(map[string]struct{}),
	}
	t.orders[o.ID] = e
	t.byStatus[StatusPending][o.ID] = struct{}{}
	return e
}

func (t *Tracker) moveLocked(id string, from, to Status) {
	if from == to {
		return
	}
	delete(t.byStatus[from], id)
	t.byStatus[to][id] = struct{}{}
}

func (t *Tracker) recordLocked(a Anomaly) Anomaly {
	a.ObservedAt = t.now()
	t.anomalies = append(t.anomalies, a)
	if a.Kind == AnomalyDuplicateUpdate || a.Kind == AnomalyDuplicateDeal {
		log.Debugf("tracker: %s on %s: %s", a.Kind, a.OrderID, a.Detail)
	} else {
		log.Warnf("tracker: %s on %s: %s", a.Kind, a.OrderID, a.Detail)
	}
	return a
}

func (t *Tracker) publish(notes []note) {
	if t.pub == nil {
		return
	}
	for _, n := range notes {
		t.pub.Publish(n.topic, n.payload)
	}
}

func (p Projection) clone() Projection {
	p.History = append([]OrderUpdate(nil), p.History...)
	p.Deals = append([]Deal(nil), p.Deals...)
	return p
}

func cloneAnomalies(in []Anomaly) []Anomaly {
	if len(in) == 0 {
		return nil
	}
	return append([]Anomaly(nil), in...)
}
