package core

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Vars is the variable mapping a template is rendered from. Values are
// formatted once, at construction time, so the snapshot stored alongside a
// queue item is exactly what rendering consumed.
type Vars map[string]string

func (v Vars) Set(key, value string)    { v[key] = value }
func (v Vars) SetInt(key string, n int) { v[key] = strconv.Itoa(n) }

// SetDate stores a date-only value (YYYY-MM-DD); time of day is dropped.
func (v Vars) SetDate(key string, t time.Time) { v[key] = t.Format("2006-01-02") }

// AllowedPlaceholders is the editor-facing allow-list. The renderer itself
// substitutes any {{name}} token; enforcement is a validation concern.
var AllowedPlaceholders = []string{
	"clientName",
	"clientPhone",
	"carLicensePlate",
	"carVin",
	"carMake",
	"carModel",
	"currentMileage",
	"lastServiceDate",
	"scheduledFor",
	"garageName",
	"daysSinceService",
	"mileageSinceService",
}

type RenderResult struct {
	Rendered         string   `json:"rendered"`
	MissingVariables []string `json:"missing_variables"`
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// RenderTemplate substitutes {{name}} tokens from vars. Tokens without a
// value stay literally in place and are reported in MissingVariables, in
// order of first appearance. Rendering never fails.
func RenderTemplate(body string, vars Vars) RenderResult {
	var missing []string
	seen := map[string]bool{}

	rendered := placeholderRe.ReplaceAllStringFunc(body, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if val, ok := vars[name]; ok {
			return val
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return tok
	})

	return RenderResult{Rendered: rendered, MissingVariables: missing}
}

const maxTemplateBodyLen = 2000

// DefaultTemplates are seeded per garage and can be edited afterwards.
var DefaultTemplates = []MessageTemplate{
	{
		TemplateKey: "retention_service_due_time_sms",
		TriggerType: TriggerServiceDueTime,
		Channel:     ChannelSMS,
		Name:        "Revizie recomandată (timp)",
		Body:        "Salut {{clientName}}! A trecut ceva timp de la ultima revizie pentru {{carLicensePlate}}. Vrei să programăm o verificare? Răspunde cu o zi/ora sau sună-ne. {{garageName}}",
	},
	{
		TemplateKey: "retention_service_due_mileage_sms",
		TriggerType: TriggerServiceDueMileage,
		Channel:     ChannelSMS,
		Name:        "Revizie recomandată (km)",
		Body:        "Salut {{clientName}}! Pentru {{carLicensePlate}} se apropie următoarea revizie (km). Dacă dorești, te putem programa. {{garageName}}",
	},
	{
		TemplateKey: "retention_inactivity_sms",
		TriggerType: TriggerInactivity,
		Channel:     ChannelSMS,
		Name:        "Revenire client",
		Body:        "Salut {{clientName}}! Nu ne-am mai văzut de ceva vreme. Dacă ai nevoie de o verificare pentru {{carLicensePlate}}, te putem programa rapid. {{garageName}}",
	},
	{
		TemplateKey: "retention_birthday_sms",
		TriggerType: TriggerBirthday,
		Channel:     ChannelSMS,
		Name:        "La mulți ani",
		Body:        "La mulți ani, {{clientName}}! Îți dorim o zi frumoasă. Dacă ai nevoie de ceva pentru {{carLicensePlate}}, suntem aici. {{garageName}}",
	},
	{
		TemplateKey: "retention_follow_up_sms",
		TriggerType: TriggerFollowUp,
		Channel:     ChannelSMS,
		Name:        "Follow-up după service",
		Body:        "Salut {{clientName}}! Totul e în regulă după intervenția la {{carLicensePlate}}? Dacă apare ceva, scrie-ne oricând. {{garageName}}",
	},
	{
		TemplateKey: "retention_appt_reminder_sms",
		TriggerType: TriggerApptReminder,
		Channel:     ChannelSMS,
		Name:        "Reminder programare",
		Body:        "Reminder: ai programare la {{garageName}} pe {{scheduledFor}} pentru {{carLicensePlate}}. Dacă nu mai poți ajunge, te rugăm anunță-ne.",
	},
	{
		TemplateKey: "retention_ready_sms",
		TriggerType: TriggerReady,
		Channel:     ChannelSMS,
		Name:        "Mașina este gata",
		Body:        "Salut {{clientName}}! Mașina {{carLicensePlate}} este gata și poate fi ridicată. {{garageName}}",
	},
	{
		TemplateKey: "retention_service_due_time_whatsapp",
		TriggerType: TriggerServiceDueTime,
		Channel:     ChannelWhatsApp,
		Name:        "Revizie recomandată (timp) - WhatsApp",
		Body:        "Salut, {{clientName}} 👋\nA trecut ceva timp de la ultima revizie pentru {{carLicensePlate}}.\nVrei să te programăm? Răspunde cu ziua/ora preferată.\n— {{garageName}}",
	},
	{
		TemplateKey: "retention_ready_whatsapp",
		TriggerType: TriggerReady,
		Channel:     ChannelWhatsApp,
		Name:        "Mașina este gata - WhatsApp",
		Body:        "Salut, {{clientName}} ✅\nMașina {{carLicensePlate}} este gata și poate fi ridicată.\n— {{garageName}}",
	},
}

const templateCols = `id, garage_id, template_key, trigger_type, channel, name, body, enabled, created_at, updated_at`

func scanTemplate(row pgx.Row) (MessageTemplate, error) {
	var t MessageTemplate
	err := row.Scan(&t.ID, &t.GarageID, &t.TemplateKey, &t.TriggerType, &t.Channel,
		&t.Name, &t.Body, &t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TemplateFilter struct {
	TriggerType *TriggerType
	Channel     *Channel
	Enabled     *bool
}

func (s *Store) ListTemplates(ctx context.Context, garageID string, f TemplateFilter) ([]MessageTemplate, error) {
	q := `SELECT ` + templateCols + ` FROM message_templates WHERE garage_id=$1`
	args := []any{garageID}
	if f.TriggerType != nil {
		args = append(args, *f.TriggerType)
		q += ` AND trigger_type=$` + strconv.Itoa(len(args))
	}
	if f.Channel != nil {
		args = append(args, *f.Channel)
		q += ` AND channel=$` + strconv.Itoa(len(args))
	}
	if f.Enabled != nil {
		args = append(args, *f.Enabled)
		q += ` AND enabled=$` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY trigger_type, channel`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id, garageID string) (MessageTemplate, error) {
	return scanTemplate(s.DB.QueryRow(ctx,
		`SELECT `+templateCols+` FROM message_templates WHERE id=$1 AND garage_id=$2`, id, garageID))
}

func (s *Store) GetTemplateByKey(ctx context.Context, garageID, templateKey string) (MessageTemplate, error) {
	return scanTemplate(s.DB.QueryRow(ctx,
		`SELECT `+templateCols+` FROM message_templates WHERE garage_id=$1 AND template_key=$2`, garageID, templateKey))
}

// ResolveTemplate returns the enabled template for (trigger, channel).
func (s *Store) ResolveTemplate(ctx context.Context, garageID string, trigger TriggerType, channel Channel) (MessageTemplate, error) {
	return scanTemplate(s.DB.QueryRow(ctx,
		`SELECT `+templateCols+` FROM message_templates
		 WHERE garage_id=$1 AND trigger_type=$2 AND channel=$3 AND enabled
		 ORDER BY created_at LIMIT 1`, garageID, trigger, channel))
}

func (s *Store) CreateTemplate(ctx context.Context, t MessageTemplate) (MessageTemplate, error) {
	if len(t.Body) > maxTemplateBodyLen {
		return MessageTemplate{}, validationf("template body cannot exceed %d characters", maxTemplateBodyLen)
	}
	if t.TemplateKey == "" || t.Name == "" || t.Body == "" {
		return MessageTemplate{}, validationf("template key, name and body are required")
	}
	if t.Channel != ChannelSMS && t.Channel != ChannelWhatsApp {
		return MessageTemplate{}, validationf("channel must be SMS or WHATSAPP")
	}
	t.ID = uuid.NewString()
	return scanTemplate(s.DB.QueryRow(ctx, `
		INSERT INTO message_templates(id, garage_id, template_key, trigger_type, channel, name, body, enabled)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+templateCols,
		t.ID, t.GarageID, t.TemplateKey, t.TriggerType, t.Channel, t.Name, t.Body, t.Enabled))
}

type TemplateUpdate struct {
	Name    *string
	Body    *string
	Enabled *bool
}

func (s *Store) UpdateTemplate(ctx context.Context, id, garageID string, u TemplateUpdate) (MessageTemplate, error) {
	if u.Body != nil && len(*u.Body) > maxTemplateBodyLen {
		return MessageTemplate{}, validationf("template body cannot exceed %d characters", maxTemplateBodyLen)
	}
	return scanTemplate(s.DB.QueryRow(ctx, `
		UPDATE message_templates SET
			name    = COALESCE($3, name),
			body    = COALESCE($4, body),
			enabled = COALESCE($5, enabled),
			updated_at = now()
		WHERE id=$1 AND garage_id=$2
		RETURNING `+templateCols, id, garageID, u.Name, u.Body, u.Enabled))
}

func (s *Store) DeleteTemplate(ctx context.Context, id, garageID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM message_templates WHERE id=$1 AND garage_id=$2`, id, garageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type SeedResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SeedDefaultTemplates installs the default set for a garage. Existing keys
// are skipped unless overwrite is set, in which case trigger, channel, name
// and body are refreshed but the enabled flag is left alone.
func (s *Store) SeedDefaultTemplates(ctx context.Context, garageID string, overwrite bool) (SeedResult, error) {
	if _, err := s.GetGarage(ctx, garageID); err != nil {
		return SeedResult{}, err
	}

	var res SeedResult
	for _, tpl := range DefaultTemplates {
		existing, err := s.GetTemplateByKey(ctx, garageID, tpl.TemplateKey)
		switch {
		case err == nil:
			if !overwrite {
				res.Skipped++
				continue
			}
			_, err = s.DB.Exec(ctx, `
				UPDATE message_templates
				SET trigger_type=$2, channel=$3, name=$4, body=$5, updated_at=now()
				WHERE id=$1`, existing.ID, tpl.TriggerType, tpl.Channel, tpl.Name, tpl.Body)
			if err != nil {
				return res, err
			}
			res.Updated++
		case err == ErrNotFound:
			tpl.GarageID = garageID
			tpl.Enabled = true
			if _, err := s.CreateTemplate(ctx, tpl); err != nil {
				return res, err
			}
			res.Created++
		default:
			return res, err
		}
	}
	return res, nil
}
