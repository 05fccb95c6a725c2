package model

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical layout trip exports use for started_at and
// ended_at, and the layout cleaned output is written with.
const TimestampLayout = "2006-01-02 15:04:05"

// RiderType classifies who took a trip: annual members vs pay-per-use riders.
type RiderType string

const (
	RiderMember RiderType = "member"
	RiderCasual RiderType = "casual"
)

// ParseRiderType normalizes a raw member_casual value against the closed set.
// ok is false for anything unrecognized.
func ParseRiderType(raw string) (RiderType, bool) {
	switch RiderType(strings.ToLower(strings.TrimSpace(raw))) {
	case RiderMember:
		return RiderMember, true
	case RiderCasual:
		return RiderCasual, true
	}
	return "", false
}

// BikeType classifies the vehicle of a trip.
type BikeType string

const (
	BikeClassic  BikeType = "classic"
	BikeElectric BikeType = "electric"
	BikeDocked   BikeType = "docked"
)

// ParseBikeType normalizes a raw rideable_type value. Monthly exports write
// values like "classic_bike"; the "_bike" suffix is stripped before matching.
// ok is false for anything unrecognized.
func ParseBikeType(raw string) (BikeType, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimSuffix(v, "_bike")
	switch BikeType(v) {
	case BikeClassic:
		return BikeClassic, true
	case BikeElectric:
		return BikeElectric, true
	case BikeDocked:
		return BikeDocked, true
	}
	return "", false
}

// TripRecord is one raw row from a monthly trip export. Every field is kept
// as the string the source wrote; nothing here is guaranteed to be valid.
type TripRecord struct {
	RideID           string `json:"ride_id"`
	RideableType     string `json:"rideable_type"`
	StartedAt        string `json:"started_at"`
	EndedAt          string `json:"ended_at"`
	StartStationName string `json:"start_station_name"`
	EndStationName   string `json:"end_station_name"`
	MemberCasual     string `json:"member_casual"`
}

// CleanedTrip is a TripRecord that survived cleaning, with parsed timestamps,
// normalized categories and the derived analysis columns.
//
// time.Weekday and time.Month already carry the orderings the analysis needs:
// Sunday is 0 and January is 1, so sorting by their ordinals gives Sunday-first
// weeks and calendar-ordered months rather than alphabetical ones.
type CleanedTrip struct {
	ID                string       `json:"ride_id"`
	BikeType          BikeType     `json:"rideable_type"`
	RiderType         RiderType    `json:"member_casual"`
	StartStationName  string       `json:"start_station_name"`
	EndStationName    string       `json:"end_station_name"`
	StartedAt         time.Time    `json:"started_at"`
	EndedAt           time.Time    `json:"ended_at"`
	RideLengthMinutes float64      `json:"ride_length_minutes"`
	DayOfWeek         time.Weekday `json:"day_of_week"`
	Month             time.Month   `json:"month"`
}

// Record converts a cleaned trip back into raw export form, timestamps in the
// canonical layout. Cleaning the result again yields the same trip.
func (t CleanedTrip) Record() TripRecord {
	return TripRecord{
		RideID:           t.ID,
		RideableType:     string(t.BikeType),
		StartedAt:        t.StartedAt.Format(TimestampLayout),
		EndedAt:          t.EndedAt.Format(TimestampLayout),
		StartStationName: t.StartStationName,
		EndStationName:   t.EndStationName,
		MemberCasual:     string(t.RiderType),
	}
}
