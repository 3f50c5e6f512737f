package domain

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const DateLayout = "2006-01-02"

// Day truncates t to its calendar date, expressed as midnight UTC. The wall
// clock date of t's own location is kept.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// SlotKey identifies one bookable unit of a physiotherapist's calendar.
type SlotKey struct {
	PhysiotherapistID string
	Date              time.Time
	TimeSlot          string
}

var slotKeyEscaper = strings.NewReplacer(`\`, `\\`, "_", `\_`)

// String joins the parts with "_". Backslashes and underscores inside the id
// and slot token are escaped so distinct keys never share a string.
func (k SlotKey) String() string {
	return slotKeyEscaper.Replace(k.PhysiotherapistID) + "_" +
		Day(k.Date).Format(DateLayout) + "_" +
		slotKeyEscaper.Replace(k.TimeSlot)
}

type OccupantKind string

const (
	OccupantAppointment OccupantKind = "appointment"
	OccupantBlock       OccupantKind = "block"
)

// SlotClaim records the single active occupant of a slot key. Stores insert it
// create-if-absent, so a second occupant fails at write time.
type SlotClaim struct {
	bun.BaseModel `bun:"table:slot_claims" bson:"-"`

	Key               string       `bun:"key,pk" bson:"_id"`
	PhysiotherapistID string       `bun:"physiotherapist_id,notnull" bson:"physiotherapist_id"`
	Date              time.Time    `bun:"date,type:date,notnull" bson:"date"`
	TimeSlot          string       `bun:"time_slot,notnull" bson:"time_slot"`
	OccupantKind      OccupantKind `bun:"occupant_kind,notnull" bson:"occupant_kind"`
	OccupantID        string       `bun:"occupant_id,notnull" bson:"occupant_id"`
	CreatedAt         time.Time    `bun:"created_at,notnull" bson:"created_at"`
}

func NewSlotClaim(key SlotKey, kind OccupantKind, occupantID string, now time.Time) SlotClaim {
	return SlotClaim{
		Key:               key.String(),
		PhysiotherapistID: key.PhysiotherapistID,
		Date:              Day(key.Date),
		TimeSlot:          key.TimeSlot,
		OccupantKind:      kind,
		OccupantID:        occupantID,
		CreatedAt:         now.UTC(),
	}
}
