package patient

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type WorkSchedule string

const (
	ScheduleDay        WorkSchedule = "day"
	ScheduleNightShift WorkSchedule = "night_shift"
	ScheduleVariable   WorkSchedule = "variable"
)

type TravelFrequency string

const (
	TravelRare       TravelFrequency = "rare"
	TravelOccasional TravelFrequency = "occasional"
	TravelFrequent   TravelFrequency = "frequent"
)

// Preferences are the patient's daily anchors, as HH:MM strings.
type Preferences struct {
	WakeTime      string `json:"wake_time"`
	BreakfastTime string `json:"breakfast_time"`
	LunchTime     string `json:"lunch_time"`
	DinnerTime    string `json:"dinner_time"`
	SleepTime     string `json:"sleep_time"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		WakeTime:      "07:00",
		BreakfastTime: "08:00",
		LunchTime:     "12:00",
		DinnerTime:    "18:00",
		SleepTime:     "22:00",
	}
}

// WithDefaults fills empty anchors from DefaultPreferences.
func (p Preferences) WithDefaults() Preferences {
	d := DefaultPreferences()
	if p.WakeTime == "" {
		p.WakeTime = d.WakeTime
	}
	if p.BreakfastTime == "" {
		p.BreakfastTime = d.BreakfastTime
	}
	if p.LunchTime == "" {
		p.LunchTime = d.LunchTime
	}
	if p.DinnerTime == "" {
		p.DinnerTime = d.DinnerTime
	}
	if p.SleepTime == "" {
		p.SleepTime = d.SleepTime
	}
	return p
}

type Patient struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	WorkSchedule    WorkSchedule    `json:"work_schedule" db:"work_schedule"`
	TravelFrequency TravelFrequency `json:"travel_frequency" db:"travel_frequency"`
	Preferences     Preferences     `json:"preferences" db:"preferences"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type Medication struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	PatientID           uuid.UUID `json:"patient_id" db:"patient_id"`
	Name                string    `json:"name" db:"name"`
	Dosage              string    `json:"dosage" db:"dosage"`
	Frequency           string    `json:"frequency" db:"frequency"`
	WithFood            bool      `json:"with_food" db:"with_food"`
	FoodRequirements    string    `json:"food_requirements,omitempty" db:"food_requirements"`
	SpecialInstructions string    `json:"special_instructions,omitempty" db:"special_instructions"`
	EstimatedCost       float64   `json:"estimated_cost" db:"estimated_cost"`
	// ScheduleTimes are the currently active daily dose times (HH:MM).
	ScheduleTimes []string `json:"schedule_times" db:"schedule_times"`
	Active        bool     `json:"active" db:"is_active"`
}

// HasRestriction reports whether the medication carries food or special instructions.
func (m Medication) HasRestriction() bool {
	return m.WithFood || m.FoodRequirements != "" || m.SpecialInstructions != ""
}

// Label is the name with dosage, as shown on schedules.
func (m Medication) Label() string {
	if m.Dosage == "" {
		return m.Name
	}
	return m.Name + " " + m.Dosage
}

type SymptomEvent struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	PatientID            uuid.UUID `json:"patient_id" db:"patient_id"`
	Description          string    `json:"description" db:"description"`
	Severity             int       `json:"severity" db:"severity"` // 1-10
	AssociatedMedication string    `json:"associated_medication,omitempty" db:"associated_medication"`
	ReportedAt           time.Time `json:"reported_at" db:"reported_at"`
	Resolved             bool      `json:"resolved" db:"resolved"`
}

type BarrierRecord struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PatientID   uuid.UUID `json:"patient_id" db:"patient_id"`
	Category    string    `json:"category" db:"category"`
	Severity    string    `json:"severity" db:"severity"`
	Description string    `json:"description" db:"description"`
	Evidence    []string  `json:"evidence" db:"evidence"`
	Strength    float64   `json:"strength" db:"strength"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type InterventionRecord struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PatientID   uuid.UUID       `json:"patient_id" db:"patient_id"`
	Type        string          `json:"type" db:"intervention_type"`
	Description string          `json:"description" db:"description"`
	Details     json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

type ReportRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	PatientID       uuid.UUID       `json:"patient_id" db:"patient_id"`
	ReportType      string          `json:"report_type" db:"report_type"`
	PeriodStart     time.Time       `json:"period_start" db:"period_start"`
	PeriodEnd       time.Time       `json:"period_end" db:"period_end"`
	Summary         string          `json:"summary" db:"summary"`
	EscalationLevel string          `json:"escalation_level" db:"escalation_level"`
	Content         json.RawMessage `json:"content,omitempty" db:"content"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Activity is one capability invocation inside an orchestration run.
type Activity struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RunID      uuid.UUID `json:"run_id" db:"run_id"`
	PatientID  uuid.UUID `json:"patient_id" db:"patient_id"`
	Capability string    `json:"capability" db:"capability"`
	Task       string    `json:"task" db:"task"`
	Success    bool      `json:"success" db:"success"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Summary    string    `json:"summary" db:"summary"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
