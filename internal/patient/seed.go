package patient

import (
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/analytics"
)

// SeedDemo loads a patient with two weeks of once-daily logs: nine doses
// taken, then five consecutive misses ending yesterday.
func SeedDemo(repo *MemoryRepository, now time.Time) uuid.UUID {
	p := Patient{
		ID:              uuid.New(),
		Name:            "Demo Patient",
		WorkSchedule:    ScheduleDay,
		TravelFrequency: TravelRare,
		Preferences:     DefaultPreferences(),
	}
	repo.AddPatient(p)

	metformin := Medication{
		ID:            uuid.New(),
		PatientID:     p.ID,
		Name:          "Metformin",
		Dosage:        "500mg",
		Frequency:     "twice daily",
		WithFood:      true,
		EstimatedCost: 12,
		ScheduleTimes: []string{"08:00", "20:00"},
		Active:        true,
	}
	lisinopril := Medication{
		ID:            uuid.New(),
		PatientID:     p.ID,
		Name:          "Lisinopril",
		Dosage:        "10mg",
		Frequency:     "once daily",
		EstimatedCost: 8,
		ScheduleTimes: []string{"08:00"},
		Active:        true,
	}
	repo.AddMedication(metformin)
	repo.AddMedication(lisinopril)

	start := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, now.Location()).AddDate(0, 0, -14)
	for i := 0; i < 14; i++ {
		taken := i < 9
		status := analytics.StatusTaken
		if !taken {
			status = analytics.StatusMissed
		}
		repo.AddDoseEvents(p.ID, analytics.DoseEvent{
			MedicationID:  lisinopril.ID.String(),
			ScheduledTime: start.AddDate(0, 0, i),
			Taken:         taken,
			Status:        status,
		})
	}
	return p.ID
}
