package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	blockedNoMileage        = "No mileage data available"
	blockedTemplateMissing  = "TEMPLATE_MISSING"
	blockedTemplateDisabled = "TEMPLATE_DISABLED"
)

const defaultMaxRetries = 3

type GenerationResult struct {
	Created int         `json:"created"`
	Blocked int         `json:"blocked"`
	Skipped int         `json:"skipped"`
	Items   []QueueItem `json:"items"`
}

// RunRetentionGeneration evaluates the garage's active rules and turns the
// candidates into durable queue items. The run is idempotent: an existing
// active item for the same (client, car, trigger) tuple makes the candidate
// a skip, and the existence check is part of the insert statement itself, so
// concurrent runs cannot double-insert.
func (s *Store) RunRetentionGeneration(ctx context.Context, garageID string, lookaheadDays int) (GenerationResult, error) {
	if lookaheadDays < 0 {
		return GenerationResult{}, validationf("lookahead days must not be negative")
	}

	garage, err := s.GetGarage(ctx, garageID)
	if err != nil {
		return GenerationResult{}, err
	}

	now := time.Now()
	candidates, err := s.EvaluateRules(ctx, garageID, now, lookaheadDays)
	if err != nil {
		return GenerationResult{}, err
	}

	var res GenerationResult
	for _, cand := range candidates {
		item, created, err := s.enqueueCandidate(ctx, garage, cand, now)
		if err != nil {
			return res, err
		}
		if !created {
			res.Skipped++
			continue
		}
		if item.Status == StatusBlocked {
			res.Blocked++
		} else {
			res.Created++
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

func (s *Store) enqueueCandidate(ctx context.Context, garage Garage, cand Candidate, now time.Time) (QueueItem, bool, error) {
	item := QueueItem{
		ID:           uuid.NewString(),
		GarageID:     garage.ID,
		ClientID:     cand.ClientID,
		CarID:        &cand.CarID,
		TriggerType:  cand.TriggerType,
		Channel:      ChannelSMS,
		Variables:    Vars{},
		ScheduledFor: now,
		Status:       StatusDue,
		MaxRetries:   defaultMaxRetries,
	}

	switch {
	case cand.NoMileageData:
		item.Status = StatusBlocked
		reason := blockedNoMileage
		item.BlockedReason = &reason
	default:
		tpl, reason, err := s.resolveForGeneration(ctx, garage.ID, cand.TriggerType)
		if err != nil {
			return QueueItem{}, false, err
		}
		if reason != "" {
			item.Status = StatusBlocked
			item.BlockedReason = &reason
			break
		}
		item.Channel = tpl.Channel
		item.TemplateKey = &tpl.TemplateKey
		item.Variables = candidateVars(garage, cand)
		rendered := RenderTemplate(tpl.Body, item.Variables).Rendered
		item.RenderedPreview = &rendered
	}

	return s.insertQueueItem(ctx, item)
}

// resolveForGeneration prefers an enabled WhatsApp template and falls back
// to SMS. An empty reason means tpl is usable; otherwise the reason
// distinguishes a missing template from a disabled one.
func (s *Store) resolveForGeneration(ctx context.Context, garageID string, trigger TriggerType) (MessageTemplate, string, error) {
	for _, ch := range []Channel{ChannelWhatsApp, ChannelSMS} {
		tpl, err := s.ResolveTemplate(ctx, garageID, trigger, ch)
		if err == nil {
			return tpl, "", nil
		}
		if err != ErrNotFound {
			return MessageTemplate{}, "", err
		}
	}

	// Nothing enabled. Does a disabled one exist?
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM message_templates
		WHERE garage_id=$1 AND trigger_type=$2 AND NOT enabled`, garageID, trigger).Scan(&n)
	if err != nil {
		return MessageTemplate{}, "", err
	}
	if n > 0 {
		return MessageTemplate{}, blockedTemplateDisabled, nil
	}
	return MessageTemplate{}, blockedTemplateMissing, nil
}

func candidateVars(garage Garage, cand Candidate) Vars {
	vars := Vars{}
	vars.Set("clientName", cand.ClientName)
	vars.Set("clientPhone", cand.ClientPhone)
	vars.Set("carLicensePlate", cand.LicensePlate)
	vars.Set("garageName", garage.Name)
	if cand.LastServiceDate != nil {
		vars.SetDate("lastServiceDate", *cand.LastServiceDate)
	}
	if cand.CurrentMileage > 0 {
		vars.SetInt("currentMileage", cand.CurrentMileage)
	}
	switch cand.TriggerType {
	case TriggerServiceDueTime:
		if cand.DaysSinceService != nil {
			vars.SetInt("daysSinceService", *cand.DaysSinceService)
		}
	case TriggerServiceDueMileage:
		vars.SetInt("mileageSinceService", cand.MileageSinceService)
	}
	return vars
}

// insertQueueItem persists the item unless an active item already occupies
// the (garage, client, car, trigger) tuple. The NOT EXISTS guard lives in
// the same statement as the insert, so the dedup check cannot race a
// concurrent generation run.
func (s *Store) insertQueueItem(ctx context.Context, item QueueItem) (QueueItem, bool, error) {
	inserted, err := scanQueueItem(s.DB.QueryRow(ctx, `
		INSERT INTO message_queue(id, garage_id, client_id, car_id, trigger_type, channel,
			template_key, variables_json, rendered_preview, scheduled_for, status,
			blocked_reason, retry_count, max_retries)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,$13
		WHERE NOT EXISTS (
			SELECT 1 FROM message_queue
			WHERE garage_id=$2 AND client_id=$3 AND car_id IS NOT DISTINCT FROM $4
			  AND trigger_type=$5 AND status IN ('SCHEDULED','DUE','SENDING')
		)
		RETURNING `+queueCols,
		item.ID, item.GarageID, item.ClientID, item.CarID, item.TriggerType, item.Channel,
		item.TemplateKey, item.Variables, item.RenderedPreview, item.ScheduledFor, item.Status,
		item.BlockedReason, item.MaxRetries))
	if err == ErrNotFound {
		return QueueItem{}, false, nil // active item already exists: skipped
	}
	if err != nil {
		return QueueItem{}, false, err
	}
	return inserted, true, nil
}
