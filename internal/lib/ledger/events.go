package ledger

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

type EventKind string

const (
	EventPoolCreated          EventKind = "PoolCreated"
	EventPoolStatusChanged    EventKind = "PoolStatusChanged"
	EventPoolFunded           EventKind = "PoolFunded"
	EventPoolFeesUpdated      EventKind = "PoolFeesUpdated"
	EventStaked               EventKind = "Staked"
	EventUnstaked             EventKind = "Unstaked"
	EventRewardClaimed        EventKind = "RewardClaimed"
	EventPaused               EventKind = "Paused"
	EventUnpaused             EventKind = "Unpaused"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
	EventFeeDefaultsUpdated   EventKind = "FeeDefaultsUpdated"
	EventWithdrawn            EventKind = "Withdrawn"
	EventRewardWithdrawn      EventKind = "RewardWithdrawn"
)

// Event records one committed mutation. Seq is assigned by the ledger and increases by one per event.
type Event struct {
	Seq      uint64       `json:"seq"`
	Kind     EventKind    `json:"kind"`
	Time     time.Time    `json:"time"`
	PoolID   uint64       `json:"poolId,omitempty"`
	Account  string       `json:"account,omitempty"`
	Asset    string       `json:"asset,omitempty"`
	Amount   *uint256.Int `json:"amount,omitempty"`
	Penalty  *uint256.Int `json:"penalty,omitempty"`
	Fee      *uint256.Int `json:"fee,omitempty"`
	TokenIDs []uint64     `json:"tokenIds,omitempty"`
	Active   *bool        `json:"active,omitempty"`
}

// EventSink receives every event after the mutation that produced it has been committed.
type EventSink interface {
	Append(ctx context.Context, event Event) error
}

// SeqSource is implemented by sinks that persist events. The ledger never numbers an event at or below
// the sink's LastSeq, so a snapshot older than the sink doesn't reuse sequence numbers.
type SeqSource interface {
	LastSeq() uint64
}

func (l *Ledger) sinkSeq() uint64 {
	if src, ok := l.sink.(SeqSource); ok {
		return src.LastSeq()
	}
	return 0
}

// emit must be called with the write lock held.
func (l *Ledger) emit(ctx context.Context, event Event) {
	l.nextSeq++
	event.Seq = l.nextSeq
	event.Time = l.clock.Now().UTC()

	if len(l.events) >= eventRingSize {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)

	if l.sink == nil {
		return
	}
	if err := l.sink.Append(ctx, event); err != nil {
		misc.Warnf(l.log, "event sink rejected %s seq:%d: %v", event.Kind, event.Seq, err)
	}
}

// Events returns the buffered events with a sequence above since, oldest first.
func (l *Ledger) Events(since uint64) []Event {
	l.RLock()
	defer l.RUnlock()
	var out []Event
	for _, event := range l.events {
		if event.Seq > since {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq is the sequence number of the most recent event.
func (l *Ledger) LastSeq() uint64 {
	l.RLock()
	defer l.RUnlock()
	return l.nextSeq
}
