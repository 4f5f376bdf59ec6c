package immediate

import (
	"errors"
	"fmt"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/query"
)

// QueryKind is the kind of a query object.
type QueryKind uint8

// Query kinds. Predicates and stream-output statistics are not emulated.
const (
	QueryEvent QueryKind = iota
	QueryOcclusion
	QueryTimestamp
	QueryTimestampDisjoint
	QueryPipelineStatistics
	QueryOcclusionPredicate
	QuerySOStatistics
)

var queryKindNames = [...]string{
	"event", "occlusion", "timestamp", "timestamp-disjoint",
	"pipeline-statistics", "occlusion-predicate", "so-statistics",
}

// String returns the kind name.
func (k QueryKind) String() string {
	if int(k) < len(queryKindNames) {
		return queryKindNames[k]
	}
	return fmt.Sprintf("QueryKind(%d)", k)
}

func (k QueryKind) internal() (query.Kind, bool) {
	switch k {
	case QueryEvent:
		return query.KindEvent, true
	case QueryOcclusion:
		return query.KindOcclusion, true
	case QueryTimestamp:
		return query.KindTimestamp, true
	case QueryTimestampDisjoint:
		return query.KindTimestampDisjoint, true
	case QueryPipelineStatistics:
		return query.KindPipelineStatistics, true
	default:
		return 0, false
	}
}

// Query is a query object created by Device.CreateQuery.
type Query struct {
	kind QueryKind
	q    *query.Query
}

// Kind returns the query kind.
func (q *Query) Kind() QueryKind { return q.kind }

// QueryData is the result of a finished query. Only the fields of the
// query's kind are set.
type QueryData struct {
	// Samples is the occlusion sample count.
	Samples uint64

	// Timestamp is the GPU tick count at End.
	Timestamp uint64

	// Frequency and Disjoint describe the timestamps taken inside a
	// disjoint bracket.
	Frequency uint64
	Disjoint  bool

	Statistics gpucore.PipelineStatistics
}

// GetDataFlag modifies GetData.
type GetDataFlag uint8

// GetDataDoNotFlush makes GetData report not-ready instead of submitting
// the work the query waits for.
const GetDataDoNotFlush GetDataFlag = 1

func (c *Context) createQuery(kind QueryKind) (*Query, error) {
	k, ok := kind.internal()
	if !ok {
		return nil, notImplemented("CreateQuery(" + kind.String() + ")")
	}
	q, err := c.queries.Create(k)
	if err != nil {
		return nil, fmt.Errorf("immediate: create %s query: %w", kind, err)
	}
	return &Query{kind: kind, q: q}, nil
}

// Begin starts a bracketing query on the graphics list.
func (c *Context) Begin(q *Query) error {
	if err := c.usable(); err != nil {
		return err
	}
	if !q.q.Kind().HasBegin() {
		return fmt.Errorf("%w: %s query has no begin", ErrInvalidQuery, q.kind)
	}
	l, err := c.list(gpucore.QueueGraphics)
	if err != nil {
		return err
	}
	if err := c.queries.Begin(q.q, l.Native()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	l.MarkUtilized()
	return nil
}

// End finishes q on the graphics list. Its result becomes readable once
// that list retires.
func (c *Context) End(q *Query) error {
	if err := c.usable(); err != nil {
		return err
	}
	l, err := c.list(gpucore.QueueGraphics)
	if err != nil {
		return err
	}
	if err := c.queries.End(q.q, l.Native(), l.FenceValue()); err != nil {
		if errors.Is(err, query.ErrNotBegun) {
			return fmt.Errorf("%w: %s", ErrQueryNotBegun, q.kind)
		}
		return fmt.Errorf("immediate: %w", err)
	}
	l.MarkUtilized()
	return nil
}

// GetData returns the result of q. ready is false while the GPU has not
// reached the point q ended at. Without GetDataDoNotFlush the work q
// waits for is submitted and waited for, so the result is always ready.
func (c *Context) GetData(q *Query, flags GetDataFlag) (data QueryData, ready bool, err error) {
	if err := c.usable(); err != nil {
		return QueryData{}, false, err
	}
	if q.q.Active() {
		return QueryData{}, false, nil
	}
	if !q.q.Ended() {
		return QueryData{}, false, fmt.Errorf("%w: %s", ErrQueryNotBegun, q.kind)
	}
	if !q.q.Ready(c.fences.Completed(gpucore.QueueGraphics)) {
		if flags&GetDataDoNotFlush != 0 {
			return QueryData{}, false, nil
		}
		if err := c.SubmitCommands(gpucore.QueueGraphics, true, q.q.Fence()); err != nil {
			return QueryData{}, false, err
		}
	}
	r, err := c.queries.Read(q.q)
	if err != nil {
		return QueryData{}, false, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return QueryData{
		Samples:    r.Samples,
		Timestamp:  r.Timestamp,
		Frequency:  r.Frequency,
		Disjoint:   r.Disjoint,
		Statistics: r.Stats,
	}, true, nil
}
