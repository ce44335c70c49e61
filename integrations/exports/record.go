package exports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lendcore/core/events"
)

// Record is one committed comptroller effect as persisted by the Store.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Height     uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	Market     string    `gorm:"size:96;index"`
	Account    string    `gorm:"size:96;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table regardless of gorm naming strategy.
func (Record) TableName() string { return "comptroller_effects" }

// accountKeys lists the attributes that identify the account an effect
// concerns, in priority order.
var accountKeys = []string{"account", "recipient", "contributor"}

// NewRecord flattens evt into a Record observed at height.
func NewRecord(height uint64, evt events.Event) (Record, error) {
	if evt == nil {
		return Record{}, fmt.Errorf("exports: nil effect")
	}
	generic := evt.Event()
	if generic == nil {
		return Record{}, fmt.Errorf("exports: effect %s has no attributes", evt.EventType())
	}
	attrs, err := json.Marshal(generic.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("exports: encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Height:     height,
		Type:       generic.Type,
		Market:     generic.Attributes["market"],
		Attributes: string(attrs),
		CreatedAt:  time.Now().UTC(),
	}
	for _, key := range accountKeys {
		if value := generic.Attributes[key]; value != "" {
			record.Account = value
			break
		}
	}
	return record, nil
}

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("exports: decode attributes of %s: %w", r.ID, err)
	}
	return out, nil
}
