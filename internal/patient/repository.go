package patient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/analytics"
)

// Repository is the patient data store the capabilities read from and
// request record writes through.
type Repository interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ActiveMedications(ctx context.Context, patientID uuid.UUID) ([]Medication, error)
	GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error)
	DoseEvents(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]analytics.DoseEvent, error)
	Symptoms(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]SymptomEvent, error)
	GetSymptom(ctx context.Context, id uuid.UUID) (*SymptomEvent, error)

	SaveBarriers(ctx context.Context, barriers []BarrierRecord) error
	SaveIntervention(ctx context.Context, i *InterventionRecord) error
	SaveReport(ctx context.Context, r *ReportRecord) error
	LogActivity(ctx context.Context, a *Activity) error
}

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type sqlRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRepository works against Postgres (lib/pq) or SQLite (modernc.org/sqlite).
func NewSQLRepository(db *sql.DB, dialect Dialect) Repository {
	return &sqlRepo{db: db, dialect: dialect}
}

// rebind rewrites $n placeholders to ? for SQLite. Queries must use each
// placeholder once and in order.
func (r *sqlRepo) rebind(query string) string {
	if r.dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
					b.WriteByte('?')
					i = j - 1
					continue
				}
			}
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *sqlRepo) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `SELECT id, name, work_schedule, travel_frequency, preferences, created_at FROM patients WHERE id = $1`

	var p Patient
	var prefsJSON []byte
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&p.ID,
		&p.Name,
		&p.WorkSchedule,
		&p.TravelFrequency,
		&prefsJSON,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
	}
	return &p, nil
}

const medicationColumns = `id, patient_id, name, dosage, frequency, with_food, food_requirements, special_instructions, estimated_cost, schedule_times, is_active`

func scanMedication(row interface{ Scan(...any) error }) (Medication, error) {
	var m Medication
	var timesJSON []byte
	err := row.Scan(
		&m.ID,
		&m.PatientID,
		&m.Name,
		&m.Dosage,
		&m.Frequency,
		&m.WithFood,
		&m.FoodRequirements,
		&m.SpecialInstructions,
		&m.EstimatedCost,
		&timesJSON,
		&m.Active,
	)
	if err != nil {
		return m, err
	}
	if len(timesJSON) > 0 {
		if err := json.Unmarshal(timesJSON, &m.ScheduleTimes); err != nil {
			return m, fmt.Errorf("failed to unmarshal schedule times: %w", err)
		}
	}
	return m, nil
}

func (r *sqlRepo) ActiveMedications(ctx context.Context, patientID uuid.UUID) ([]Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE patient_id = $1 AND is_active = TRUE ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (r *sqlRepo) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE id = $1`

	m, err := scanMedication(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("medication %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

func (r *sqlRepo) DoseEvents(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]analytics.DoseEvent, error) {
	query := `
		SELECT medication_id, scheduled_time, taken, status, deviation_minutes
		FROM dose_logs
		WHERE patient_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		ORDER BY scheduled_time
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []analytics.DoseEvent
	for rows.Next() {
		var e analytics.DoseEvent
		var medID uuid.UUID
		if err := rows.Scan(&medID, &e.ScheduledTime, &e.Taken, &e.Status, &e.DeviationMinutes); err != nil {
			return nil, err
		}
		e.MedicationID = medID.String()
		events = append(events, e)
	}
	return events, rows.Err()
}

const symptomColumns = `id, patient_id, description, severity, associated_medication, reported_at, resolved`

func scanSymptom(row interface{ Scan(...any) error }) (SymptomEvent, error) {
	var s SymptomEvent
	err := row.Scan(&s.ID, &s.PatientID, &s.Description, &s.Severity, &s.AssociatedMedication, &s.ReportedAt, &s.Resolved)
	return s, err
}

func (r *sqlRepo) Symptoms(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]SymptomEvent, error) {
	query := `SELECT ` + symptomColumns + ` FROM symptoms WHERE patient_id = $1 AND reported_at >= $2 AND reported_at < $3 ORDER BY reported_at`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SymptomEvent
	for rows.Next() {
		s, err := scanSymptom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqlRepo) GetSymptom(ctx context.Context, id uuid.UUID) (*SymptomEvent, error) {
	query := `SELECT ` + symptomColumns + ` FROM symptoms WHERE id = $1`

	s, err := scanSymptom(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("symptom %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *sqlRepo) SaveBarriers(ctx context.Context, barriers []BarrierRecord) error {
	if len(barriers) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO barriers (id, patient_id, category, severity, description, evidence, strength, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	for i := range barriers {
		b := &barriers[i]
		stamp(&b.ID, &b.CreatedAt)
		evidenceJSON, err := json.Marshal(b.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			b.ID, b.PatientID, b.Category, b.Severity, b.Description, string(evidenceJSON), b.Strength, b.Status, b.CreatedAt); err != nil {
			return fmt.Errorf("insert barrier %s: %w", b.Category, err)
		}
	}
	return tx.Commit()
}

func (r *sqlRepo) SaveIntervention(ctx context.Context, i *InterventionRecord) error {
	stamp(&i.ID, &i.CreatedAt)
	query := `
		INSERT INTO interventions (id, patient_id, intervention_type, description, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		i.ID, i.PatientID, i.Type, i.Description, rawOrNull(i.Details), i.CreatedAt)
	return err
}

func (r *sqlRepo) SaveReport(ctx context.Context, rep *ReportRecord) error {
	stamp(&rep.ID, &rep.CreatedAt)
	query := `
		INSERT INTO reports (id, patient_id, report_type, period_start, period_end, summary, escalation_level, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rep.ID, rep.PatientID, rep.ReportType, rep.PeriodStart, rep.PeriodEnd, rep.Summary, rep.EscalationLevel, rawOrNull(rep.Content), rep.CreatedAt)
	return err
}

func (r *sqlRepo) LogActivity(ctx context.Context, a *Activity) error {
	stamp(&a.ID, &a.CreatedAt)
	query := `
		INSERT INTO agent_activities (id, run_id, patient_id, capability, task, success, confidence, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.RunID, a.PatientID, a.Capability, a.Task, a.Success, a.Confidence, a.Summary, a.CreatedAt)
	return err
}

func stamp(id *uuid.UUID, created *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if created.IsZero() {
		*created = time.Now()
	}
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
