package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iosfx/autoservice/internal/db"
)

// Store is the shared relational store. Every query is scoped by garage_id;
// that is the only tenant isolation mechanism.
type Store struct{ DB *pgxpool.Pool }

// ---- garages / users ----

func (s *Store) CreateGarageWithUser(ctx context.Context, garageName, timezone, email, passwordHash string, userName *string) (Garage, User, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	var g Garage
	var u User
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO garages(id, name, timezone) VALUES($1,$2,$3)
			RETURNING id, name, timezone, last_sync_at, created_at`,
			uuid.NewString(), garageName, timezone,
		).Scan(&g.ID, &g.Name, &g.Timezone, &g.LastSyncAt, &g.CreatedAt)
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
			INSERT INTO users(id, garage_id, email, password_hash, name) VALUES($1,$2,$3,$4,$5)
			RETURNING id, garage_id, email, password_hash, name, created_at`,
			uuid.NewString(), g.ID, email, passwordHash, userName,
		).Scan(&u.ID, &u.GarageID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt)
	})
	return g, u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
		SELECT id, garage_id, email, password_hash, name, created_at
		FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.GarageID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (s *Store) GetGarage(ctx context.Context, id string) (Garage, error) {
	var g Garage
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, timezone, last_sync_at, created_at FROM garages WHERE id=$1`, id,
	).Scan(&g.ID, &g.Name, &g.Timezone, &g.LastSyncAt, &g.CreatedAt)
	if err == pgx.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

// ListGarageIDs feeds the background runner, which works per tenant.
func (s *Store) ListGarageIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM garages ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- clients ----

const clientCols = `id, garage_id, name, phone, birthday, created_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.GarageID, &c.Name, &c.Phone, &c.Birthday, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (s *Store) CreateClient(ctx context.Context, garageID, name, phone string, birthday *time.Time) (Client, error) {
	if name == "" || phone == "" {
		return Client{}, validationf("name and phone are required")
	}
	return scanClient(s.DB.QueryRow(ctx, `
		INSERT INTO clients(id, garage_id, name, phone, birthday) VALUES($1,$2,$3,$4,$5)
		RETURNING `+clientCols, uuid.NewString(), garageID, name, phone, birthday))
}

func (s *Store) GetClient(ctx context.Context, id, garageID string) (Client, error) {
	return scanClient(s.DB.QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients WHERE id=$1 AND garage_id=$2`, id, garageID))
}

func (s *Store) ListClients(ctx context.Context, garageID string) ([]Client, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+clientCols+` FROM clients WHERE garage_id=$1 ORDER BY created_at DESC`, garageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type ClientUpdate struct {
	Name     *string
	Phone    *string
	Birthday *time.Time
}

func (s *Store) UpdateClient(ctx context.Context, id, garageID string, u ClientUpdate) (Client, error) {
	return scanClient(s.DB.QueryRow(ctx, `
		UPDATE clients SET
			name     = COALESCE($3, name),
			phone    = COALESCE($4, phone),
			birthday = COALESCE($5, birthday)
		WHERE id=$1 AND garage_id=$2
		RETURNING `+clientCols, id, garageID, u.Name, u.Phone, u.Birthday))
}

func (s *Store) DeleteClient(ctx context.Context, id, garageID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM clients WHERE id=$1 AND garage_id=$2`, id, garageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- cars ----

const carCols = `c.id, c.client_id, c.license_plate, c.vin, c.make, c.model, c.current_mileage, c.last_service_date, c.created_at`

func scanCar(row pgx.Row) (Car, error) {
	var c Car
	err := row.Scan(&c.ID, &c.ClientID, &c.LicensePlate, &c.VIN, &c.Make, &c.Model,
		&c.CurrentMileage, &c.LastServiceDate, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCar(ctx context.Context, garageID string, car Car) (Car, error) {
	if car.ClientID == "" || car.LicensePlate == "" {
		return Car{}, validationf("client id and license plate are required")
	}
	// Ownership check doubles as the not-found path.
	if _, err := s.GetClient(ctx, car.ClientID, garageID); err != nil {
		return Car{}, err
	}
	car.ID = uuid.NewString()
	return scanCar(s.DB.QueryRow(ctx, `
		INSERT INTO cars(id, client_id, license_plate, vin, make, model, current_mileage)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, client_id, license_plate, vin, make, model, current_mileage, last_service_date, created_at`,
		car.ID, car.ClientID, car.LicensePlate, car.VIN, car.Make, car.Model, car.CurrentMileage))
}

func (s *Store) GetCar(ctx context.Context, id, garageID string) (Car, error) {
	return scanCar(s.DB.QueryRow(ctx, `
		SELECT `+carCols+` FROM cars c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.id=$1 AND cl.garage_id=$2`, id, garageID))
}

func (s *Store) ListCarsByClient(ctx context.Context, clientID, garageID string) ([]Car, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+carCols+` FROM cars c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.client_id=$1 AND cl.garage_id=$2
		ORDER BY c.created_at`, clientID, garageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Car
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCarMileage(ctx context.Context, id, garageID string, mileage int) (Car, error) {
	if mileage < 0 {
		return Car{}, validationf("mileage must not be negative")
	}
	return scanCar(s.DB.QueryRow(ctx, `
		UPDATE cars c SET current_mileage=$3
		FROM clients cl
		WHERE c.id=$1 AND cl.id = c.client_id AND cl.garage_id=$2
		RETURNING `+carCols, id, garageID, mileage))
}

// ---- service visits ----

// RecordServiceVisit appends a visit and advances the car's last service
// date and mileage in the same transaction.
func (s *Store) RecordServiceVisit(ctx context.Context, garageID string, v ServiceVisit) (ServiceVisit, error) {
	if v.CarID == "" {
		return ServiceVisit{}, validationf("car id is required")
	}
	car, err := s.GetCar(ctx, v.CarID, garageID)
	if err != nil {
		return ServiceVisit{}, err
	}
	v.ID = uuid.NewString()
	v.ClientID = car.ClientID
	if v.ServiceDate.IsZero() {
		v.ServiceDate = time.Now()
	}

	err = db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO service_visits(id, car_id, client_id, service_date, mileage_at_visit, notes)
			VALUES($1,$2,$3,$4,$5,$6)
			RETURNING id, car_id, client_id, service_date, mileage_at_visit, notes, created_at`,
			v.ID, v.CarID, v.ClientID, v.ServiceDate, v.MileageAtVisit, v.Notes,
		).Scan(&v.ID, &v.CarID, &v.ClientID, &v.ServiceDate, &v.MileageAtVisit, &v.Notes, &v.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE cars SET
				last_service_date = GREATEST(COALESCE(last_service_date, $2), $2),
				current_mileage   = GREATEST(current_mileage, $3)
			WHERE id=$1`, v.CarID, v.ServiceDate, v.MileageAtVisit)
		return err
	})
	if err != nil {
		return ServiceVisit{}, err
	}
	return v, nil
}

func (s *Store) ListVisitsByCar(ctx context.Context, carID, garageID string, limit int) ([]ServiceVisit, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT v.id, v.car_id, v.client_id, v.service_date, v.mileage_at_visit, v.notes, v.created_at
		FROM service_visits v
		JOIN clients cl ON cl.id = v.client_id
		WHERE v.car_id=$1 AND cl.garage_id=$2
		ORDER BY v.service_date DESC LIMIT $3`, carID, garageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ServiceVisit
	for rows.Next() {
		var v ServiceVisit
		if err := rows.Scan(&v.ID, &v.CarID, &v.ClientID, &v.ServiceDate, &v.MileageAtVisit, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---- retention rules ----

const ruleCols = `id, garage_id, rule_type, threshold, message_template, is_active, created_at`

func scanRule(row pgx.Row) (RetentionRule, error) {
	var r RetentionRule
	err := row.Scan(&r.ID, &r.GarageID, &r.Type, &r.Threshold, &r.MessageTemplate, &r.IsActive, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

func (s *Store) CreateRule(ctx context.Context, r RetentionRule) (RetentionRule, error) {
	if r.Type != RuleTime && r.Type != RuleMileage {
		return RetentionRule{}, validationf("rule type must be TIME or MILEAGE")
	}
	if r.Threshold <= 0 {
		return RetentionRule{}, validationf("threshold must be greater than 0")
	}
	if r.MessageTemplate == "" {
		return RetentionRule{}, validationf("message template is required")
	}
	return scanRule(s.DB.QueryRow(ctx, `
		INSERT INTO retention_rules(id, garage_id, rule_type, threshold, message_template, is_active)
		VALUES($1,$2,$3,$4,$5,TRUE)
		RETURNING `+ruleCols, uuid.NewString(), r.GarageID, r.Type, r.Threshold, r.MessageTemplate))
}

func (s *Store) ListActiveRules(ctx context.Context, garageID string) ([]RetentionRule, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+ruleCols+` FROM retention_rules
		WHERE garage_id=$1 AND is_active ORDER BY created_at DESC`, garageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RetentionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRules returns every rule, active or not. The admin UI toggles
// is_active in place, so inactive rules must stay visible.
func (s *Store) ListRules(ctx context.Context, garageID string) ([]RetentionRule, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+ruleCols+` FROM retention_rules
		WHERE garage_id=$1 ORDER BY created_at DESC`, garageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RetentionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type RuleUpdate struct {
	Threshold       *int
	MessageTemplate *string
	IsActive        *bool
}

func (s *Store) UpdateRule(ctx context.Context, id, garageID string, u RuleUpdate) (RetentionRule, error) {
	if u.Threshold != nil && *u.Threshold <= 0 {
		return RetentionRule{}, validationf("threshold must be greater than 0")
	}
	return scanRule(s.DB.QueryRow(ctx, `
		UPDATE retention_rules SET
			threshold        = COALESCE($3, threshold),
			message_template = COALESCE($4, message_template),
			is_active        = COALESCE($5, is_active)
		WHERE id=$1 AND garage_id=$2
		RETURNING `+ruleCols, id, garageID, u.Threshold, u.MessageTemplate, u.IsActive))
}

func (s *Store) DeleteRule(ctx context.Context, id, garageID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM retention_rules WHERE id=$1 AND garage_id=$2`, id, garageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- message queue reads ----

const queueCols = `id, garage_id, client_id, car_id, trigger_type, channel, template_key,
	variables_json, rendered_preview, scheduled_for, status, blocked_reason,
	retry_count, max_retries, last_error, sent_at, canceled_at, created_at`

func scanQueueItem(row pgx.Row) (QueueItem, error) {
	var it QueueItem
	err := row.Scan(&it.ID, &it.GarageID, &it.ClientID, &it.CarID, &it.TriggerType, &it.Channel,
		&it.TemplateKey, &it.Variables, &it.RenderedPreview, &it.ScheduledFor, &it.Status,
		&it.BlockedReason, &it.RetryCount, &it.MaxRetries, &it.LastError, &it.SentAt,
		&it.CanceledAt, &it.CreatedAt)
	if err == pgx.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (QueueItem, error) {
	return scanQueueItem(s.DB.QueryRow(ctx,
		`SELECT `+queueCols+` FROM message_queue WHERE id=$1`, id))
}

func (s *Store) GetQueueItemForGarage(ctx context.Context, id, garageID string) (QueueItem, error) {
	return scanQueueItem(s.DB.QueryRow(ctx,
		`SELECT `+queueCols+` FROM message_queue WHERE id=$1 AND garage_id=$2`, id, garageID))
}

type QueueFilter struct {
	Status    *QueueStatus
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// ListQueueItems returns UI-shaped rows filtered by status and schedule window.
func (s *Store) ListQueueItems(ctx context.Context, garageID string, f QueueFilter) ([]QueueItemView, error) {
	q := `
		SELECT q.id, cl.name, cl.phone, c.license_plate, q.trigger_type, q.channel,
		       q.scheduled_for, q.rendered_preview, q.status, q.blocked_reason
		FROM message_queue q
		JOIN clients cl ON cl.id = q.client_id
		LEFT JOIN cars c ON c.id = q.car_id
		WHERE q.garage_id=$1`
	args := []any{garageID}
	if f.Status != nil {
		args = append(args, *f.Status)
		q += ` AND q.status=$` + strconv.Itoa(len(args))
	}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		q += ` AND q.scheduled_for >= $` + strconv.Itoa(len(args))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		q += ` AND q.scheduled_for <= $` + strconv.Itoa(len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY q.scheduled_for ASC LIMIT $%d`, len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueueItemView
	for rows.Next() {
		var v QueueItemView
		if err := rows.Scan(&v.ID, &v.ClientName, &v.ClientPhone, &v.CarLicensePlate,
			&v.TriggerType, &v.Channel, &v.ScheduledFor, &v.RenderedPreview,
			&v.Status, &v.BlockedReason); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---- message logs ----

func (s *Store) appendMessageLog(ctx context.Context, tx pgx.Tx, l MessageLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO message_logs(id, garage_id, client_id, message_queue_id, channel, content, status, error_message)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), l.GarageID, l.ClientID, l.MessageQueueID, l.Channel, l.Content, l.Status, l.ErrorMessage)
	return err
}

// AppendMessageLog writes a log row outside any queue transaction (direct sends).
func (s *Store) AppendMessageLog(ctx context.Context, l MessageLog) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO message_logs(id, garage_id, client_id, message_queue_id, channel, content, status, error_message)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), l.GarageID, l.ClientID, l.MessageQueueID, l.Channel, l.Content, l.Status, l.ErrorMessage)
	return err
}

func (s *Store) ListClientMessages(ctx context.Context, clientID, garageID string, limit int) ([]MessageLog, error) {
	return s.listLogs(ctx, `
		SELECT id, garage_id, client_id, message_queue_id, channel, content, status, error_message, sent_at
		FROM message_logs WHERE client_id=$1 AND garage_id=$2
		ORDER BY sent_at DESC LIMIT $3`, clientID, garageID, limit)
}

func (s *Store) ListGarageMessages(ctx context.Context, garageID string, limit int) ([]MessageLog, error) {
	return s.listLogs(ctx, `
		SELECT id, garage_id, client_id, message_queue_id, channel, content, status, error_message, sent_at
		FROM message_logs WHERE garage_id=$1
		ORDER BY sent_at DESC LIMIT $2`, garageID, limit)
}

func (s *Store) listLogs(ctx context.Context, q string, args ...any) ([]MessageLog, error) {
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageLog
	for rows.Next() {
		var l MessageLog
		if err := rows.Scan(&l.ID, &l.GarageID, &l.ClientID, &l.MessageQueueID, &l.Channel,
			&l.Content, &l.Status, &l.ErrorMessage, &l.SentAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
