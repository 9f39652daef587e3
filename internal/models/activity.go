package models

import (
	"database/sql/driver"
	"time"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// Event is the name of a recorded operation, "library:mod.toggle" style. The
// constants live next to the code that emits them.
type Event string

// ActivityMeta is the free-form metadata attached to an activity record, the
// folder involved, the task counts, whatever the operation finds worth
// keeping. Stored as a JSON blob.
type ActivityMeta map[string]interface{}

// Activity is one executed operation against a library, kept in the local
// activity database so a user can see what the engine changed and when.
type Activity struct {
	ID int `gorm:"primaryKey;not null" json:"-"`

	// Library is the id of the library the operation ran against. Empty for
	// operations that are not scoped to a single library.
	Library string `gorm:"type:uuid;index" json:"library"`

	Event    Event        `gorm:"index;not null" json:"event"`
	Metadata ActivityMeta `gorm:"type:text" json:"metadata"`

	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}

// TableName specifies the table name for GORM
func (Activity) TableName() string {
	return "activities"
}

// BeforeCreate executes before we create any activity entry to ensure the
// timestamp is set and stored without sub-second precision, keeping rows
// comparable across filesystems and platforms.
func (a *Activity) BeforeCreate(_ *gorm.DB) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	a.Timestamp = a.Timestamp.Truncate(time.Second)
	return nil
}

func (am ActivityMeta) Value() (driver.Value, error) {
	b, err := json.Marshal(am)
	return string(b), errors.Wrap(err, "models: could not marshal activity meta")
}

func (am *ActivityMeta) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case nil:
		return nil
	default:
		return errors.New("models: unsupported type for activity meta")
	}
	return errors.Wrap(json.Unmarshal(b, am), "models: could not unmarshal activity meta")
}
