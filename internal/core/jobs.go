package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus is the workshop lifecycle state of a job.
type JobStatus string

const (
	JobScheduled  JobStatus = "SCHEDULED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobReady      JobStatus = "READY"
	JobCompleted  JobStatus = "COMPLETED"
	JobCanceled   JobStatus = "CANCELED"
)

func (s JobStatus) valid() bool {
	switch s {
	case JobScheduled, JobInProgress, JobReady, JobCompleted, JobCanceled:
		return true
	}
	return false
}

// Job is a scheduled workshop appointment for one car.
type Job struct {
	ID            string    `json:"id"`
	GarageID      string    `json:"garage_id"`
	ClientID      string    `json:"client_id"`
	CarID         string    `json:"car_id"`
	Title         string    `json:"title"`
	Status        JobStatus `json:"status"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobView is the day-board read shape: the job plus who and which car.
type JobView struct {
	Job
	ClientName      string `json:"client_name"`
	ClientPhone     string `json:"client_phone"`
	CarLicensePlate string `json:"car_license_plate"`
}

const jobCols = `id, garage_id, client_id, car_id, title, status, scheduled_date, notes, created_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.GarageID, &j.ClientID, &j.CarID, &j.Title, &j.Status,
		&j.ScheduledDate, &j.Notes, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (s *Store) CreateJob(ctx context.Context, garageID string, j Job) (Job, error) {
	if j.Title == "" {
		return Job{}, validationf("title is required")
	}
	if j.ScheduledDate.IsZero() {
		return Job{}, validationf("scheduled date is required")
	}
	car, err := s.GetCar(ctx, j.CarID, garageID)
	if err != nil {
		return Job{}, err
	}
	if car.ClientID != j.ClientID {
		return Job{}, validationf("car does not belong to this client")
	}
	if j.Status == "" {
		j.Status = JobScheduled
	}
	if !j.Status.valid() {
		return Job{}, validationf("invalid job status %q", j.Status)
	}
	return scanJob(s.DB.QueryRow(ctx, `
		INSERT INTO jobs(id, garage_id, client_id, car_id, title, status, scheduled_date, notes)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+jobCols,
		uuid.NewString(), garageID, j.ClientID, j.CarID, j.Title, j.Status, j.ScheduledDate, j.Notes))
}

func (s *Store) GetJob(ctx context.Context, id, garageID string) (Job, error) {
	return scanJob(s.DB.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id=$1 AND garage_id=$2`, id, garageID))
}

// ListJobsByDate returns the garage's jobs, earliest first. A non-nil day
// narrows the list to the UTC calendar day it falls on.
func (s *Store) ListJobsByDate(ctx context.Context, garageID string, day *time.Time) ([]JobView, error) {
	q := `
		SELECT j.id, j.garage_id, j.client_id, j.car_id, j.title, j.status,
		       j.scheduled_date, j.notes, j.created_at, j.updated_at,
		       cl.name, cl.phone, c.license_plate
		FROM jobs j
		JOIN clients cl ON cl.id = j.client_id
		JOIN cars c ON c.id = j.car_id
		WHERE j.garage_id=$1`
	args := []any{garageID}
	if day != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		args = append(args, start, start.AddDate(0, 0, 1))
		q += ` AND j.scheduled_date >= $2 AND j.scheduled_date < $3`
	}
	q += ` ORDER BY j.scheduled_date ASC`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobView
	for rows.Next() {
		var v JobView
		if err := rows.Scan(&v.ID, &v.GarageID, &v.ClientID, &v.CarID, &v.Title, &v.Status,
			&v.ScheduledDate, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
			&v.ClientName, &v.ClientPhone, &v.CarLicensePlate); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateJobStatus(ctx context.Context, id, garageID string, status JobStatus) (Job, error) {
	if !status.valid() {
		return Job{}, validationf("invalid job status %q", status)
	}
	return scanJob(s.DB.QueryRow(ctx, `
		UPDATE jobs SET status=$3, updated_at=now()
		WHERE id=$1 AND garage_id=$2
		RETURNING `+jobCols, id, garageID, status))
}

// SetJobStatus updates a job and handles the customer notification. An
// explicit message always goes out as-is over WhatsApp; with no message, a
// transition to READY sends the rendered ready template when one is enabled.
func (d *Dispatcher) SetJobStatus(ctx context.Context, id, garageID string, status JobStatus, message string) (Job, error) {
	job, err := d.Store.UpdateJobStatus(ctx, id, garageID, status)
	if err != nil {
		return Job{}, err
	}

	switch {
	case message != "":
		if _, err := d.SendDirect(ctx, garageID, job.ClientID, ChannelWhatsApp, message); err != nil {
			return job, err
		}
	case status == JobReady:
		if err := d.notifyJobReady(ctx, garageID, job); err != nil {
			return job, err
		}
	}
	return job, nil
}

func (d *Dispatcher) notifyJobReady(ctx context.Context, garageID string, job Job) error {
	tpl, reason, err := d.Store.resolveForGeneration(ctx, garageID, TriggerReady)
	if err != nil {
		return err
	}
	if reason != "" {
		return nil // no enabled ready template: nothing to send
	}

	garage, err := d.Store.GetGarage(ctx, garageID)
	if err != nil {
		return err
	}
	client, err := d.Store.GetClient(ctx, job.ClientID, garageID)
	if err != nil {
		return err
	}
	car, err := d.Store.GetCar(ctx, job.CarID, garageID)
	if err != nil {
		return err
	}

	vars := Vars{}
	vars.Set("clientName", client.Name)
	vars.Set("clientPhone", client.Phone)
	vars.Set("carLicensePlate", car.LicensePlate)
	vars.Set("garageName", garage.Name)
	_, err = d.SendDirect(ctx, garageID, job.ClientID, tpl.Channel, RenderTemplate(tpl.Body, vars).Rendered)
	return err
}

// EnqueueAppointmentReminders creates reminder queue items for jobs still
// SCHEDULED within the next 24 hours. The same dedup tuple as rule-driven
// generation applies, so repeated sweeps skip jobs already covered.
func (s *Store) EnqueueAppointmentReminders(ctx context.Context, garageID string, now time.Time) (GenerationResult, error) {
	garage, err := s.GetGarage(ctx, garageID)
	if err != nil {
		return GenerationResult{}, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT j.client_id, j.car_id, j.scheduled_date, cl.name, cl.phone, c.license_plate
		FROM jobs j
		JOIN clients cl ON cl.id = j.client_id
		JOIN cars c ON c.id = j.car_id
		WHERE j.garage_id=$1 AND j.status='SCHEDULED'
		  AND j.scheduled_date > $2 AND j.scheduled_date <= $3
		ORDER BY j.scheduled_date ASC`, garageID, now, now.Add(24*time.Hour))
	if err != nil {
		return GenerationResult{}, err
	}
	defer rows.Close()

	type upcoming struct {
		clientID    string
		carID       string
		clientName  string
		clientPhone string
		plate       string
		at          time.Time
	}
	var jobs []upcoming
	for rows.Next() {
		var u upcoming
		if err := rows.Scan(&u.clientID, &u.carID, &u.at, &u.clientName, &u.clientPhone, &u.plate); err != nil {
			return GenerationResult{}, err
		}
		jobs = append(jobs, u)
	}
	if err := rows.Err(); err != nil {
		return GenerationResult{}, err
	}

	var res GenerationResult
	for _, u := range jobs {
		item := QueueItem{
			ID:           uuid.NewString(),
			GarageID:     garageID,
			ClientID:     u.clientID,
			CarID:        &u.carID,
			TriggerType:  TriggerApptReminder,
			Channel:      ChannelSMS,
			Variables:    Vars{},
			ScheduledFor: now,
			Status:       StatusDue,
			MaxRetries:   defaultMaxRetries,
		}

		tpl, reason, err := s.resolveForGeneration(ctx, garageID, TriggerApptReminder)
		if err != nil {
			return res, err
		}
		if reason != "" {
			item.Status = StatusBlocked
			item.BlockedReason = &reason
		} else {
			vars := Vars{}
			vars.Set("clientName", u.clientName)
			vars.Set("clientPhone", u.clientPhone)
			vars.Set("carLicensePlate", u.plate)
			vars.Set("garageName", garage.Name)
			vars.SetDate("scheduledFor", u.at)
			item.Channel = tpl.Channel
			item.TemplateKey = &tpl.TemplateKey
			item.Variables = vars
			rendered := RenderTemplate(tpl.Body, vars).Rendered
			item.RenderedPreview = &rendered
		}

		inserted, created, err := s.insertQueueItem(ctx, item)
		if err != nil {
			return res, err
		}
		if !created {
			res.Skipped++
			continue
		}
		if inserted.Status == StatusBlocked {
			res.Blocked++
		} else {
			res.Created++
		}
		res.Items = append(res.Items, inserted)
	}
	return res, nil
}
