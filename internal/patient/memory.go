package patient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/analytics"
)

type doseLog struct {
	patientID uuid.UUID
	event     analytics.DoseEvent
}

// MemoryRepository keeps everything in process. Reads return copies.
type MemoryRepository struct {
	mu            sync.RWMutex
	patients      map[uuid.UUID]Patient
	medications   map[uuid.UUID]Medication
	doses         []doseLog
	symptoms      map[uuid.UUID]SymptomEvent
	barriers      []BarrierRecord
	interventions []InterventionRecord
	reports       []ReportRecord
	activities    []Activity
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:    make(map[uuid.UUID]Patient),
		medications: make(map[uuid.UUID]Medication),
		symptoms:    make(map[uuid.UUID]SymptomEvent),
	}
}

func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.patients[p.ID] = p
}

func (m *MemoryRepository) AddMedication(med Medication) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med.ScheduleTimes = append([]string(nil), med.ScheduleTimes...)
	m.medications[med.ID] = med
}

func (m *MemoryRepository) AddDoseEvents(patientID uuid.UUID, events ...analytics.DoseEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.doses = append(m.doses, doseLog{patientID: patientID, event: e})
	}
}

func (m *MemoryRepository) AddSymptom(s SymptomEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symptoms[s.ID] = s
}

func (m *MemoryRepository) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryRepository) ActiveMedications(_ context.Context, patientID uuid.UUID) ([]Medication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Medication
	for _, med := range m.medications {
		if med.PatientID == patientID && med.Active {
			med.ScheduleTimes = append([]string(nil), med.ScheduleTimes...)
			out = append(out, med)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GetMedication(_ context.Context, id uuid.UUID) (*Medication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	med, ok := m.medications[id]
	if !ok {
		return nil, fmt.Errorf("medication %s: %w", id, ErrNotFound)
	}
	med.ScheduleTimes = append([]string(nil), med.ScheduleTimes...)
	return &med, nil
}

func (m *MemoryRepository) DoseEvents(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]analytics.DoseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []analytics.DoseEvent
	for _, d := range m.doses {
		if d.patientID == patientID {
			out = append(out, d.event)
		}
	}
	return analytics.Between(analytics.Chronological(out), from, to), nil
}

func (m *MemoryRepository) Symptoms(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]SymptomEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SymptomEvent
	for _, s := range m.symptoms {
		if s.PatientID == patientID && !s.ReportedAt.Before(from) && s.ReportedAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.Before(out[j].ReportedAt) })
	return out, nil
}

func (m *MemoryRepository) GetSymptom(_ context.Context, id uuid.UUID) (*SymptomEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symptoms[id]
	if !ok {
		return nil, fmt.Errorf("symptom %s: %w", id, ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryRepository) SaveBarriers(_ context.Context, barriers []BarrierRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range barriers {
		stamp(&barriers[i].ID, &barriers[i].CreatedAt)
		m.barriers = append(m.barriers, barriers[i])
	}
	return nil
}

func (m *MemoryRepository) SaveIntervention(_ context.Context, i *InterventionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&i.ID, &i.CreatedAt)
	m.interventions = append(m.interventions, *i)
	return nil
}

func (m *MemoryRepository) SaveReport(_ context.Context, r *ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&r.ID, &r.CreatedAt)
	m.reports = append(m.reports, *r)
	return nil
}

func (m *MemoryRepository) LogActivity(_ context.Context, a *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&a.ID, &a.CreatedAt)
	m.activities = append(m.activities, *a)
	return nil
}

func (m *MemoryRepository) Barriers() []BarrierRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]BarrierRecord(nil), m.barriers...)
}

func (m *MemoryRepository) Interventions() []InterventionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]InterventionRecord(nil), m.interventions...)
}

func (m *MemoryRepository) Reports() []ReportRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReportRecord(nil), m.reports...)
}

func (m *MemoryRepository) Activities() []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Activity(nil), m.activities...)
}
