package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"ttagenda/internal/model"
)

// Composer is the part of schedule.Composer a TodaySource needs.
type Composer interface {
	Build(ctx context.Context, from, to model.Date) ([]model.ScheduleItem, error)
}

// Message is the wire shape pushed to live subscribers.
type Message struct {
	OK    bool                 `json:"ok"`
	Items []model.ScheduleItem `json:"items"`
	Count int                  `json:"count"`
}

// TodaySource snapshots the schedule of the current calendar day.
type TodaySource struct {
	composer Composer
	loc      *time.Location
	now      func() time.Time
}

func NewTodaySource(c Composer, loc *time.Location, now func() time.Time) *TodaySource {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &TodaySource{composer: c, loc: loc, now: now}
}

// Snapshot composes [today, today] and fingerprints its JSON encoding.
// encoding/json emits struct fields in declaration order and map keys
// sorted, so equal schedules always encode to equal bytes.
func (s *TodaySource) Snapshot(ctx context.Context) (Snapshot, error) {
	today := model.DateOf(s.now().In(s.loc))
	items, err := s.composer.Build(ctx, today, today)
	if err != nil {
		return Snapshot{}, err
	}
	if items == nil {
		items = []model.ScheduleItem{}
	}

	payload, err := json.Marshal(Message{OK: true, Items: items, Count: len(items)})
	if err != nil {
		return Snapshot{}, err
	}
	sum := sha256.Sum256(payload)
	return Snapshot{Payload: payload, Fingerprint: hex.EncodeToString(sum[:]), Count: len(items)}, nil
}
