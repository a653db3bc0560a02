package core

import (
	"context"
	"time"
)

// Candidate is one (rule, car) pair that qualifies for outreach. Candidates
// are not deduplicated across rules; the generator's existence check is the
// dedup point.
type Candidate struct {
	RuleID              string      `json:"rule_id"`
	RuleType            RuleType    `json:"rule_type"`
	TriggerType         TriggerType `json:"trigger_type"`
	ClientID            string      `json:"client_id"`
	ClientName          string      `json:"client_name"`
	ClientPhone         string      `json:"client_phone"`
	CarID               string      `json:"car_id"`
	LicensePlate        string      `json:"license_plate"`
	LastServiceDate     *time.Time  `json:"last_service_date,omitempty"`
	DaysSinceService    *int        `json:"days_since_service,omitempty"`
	CurrentMileage      int         `json:"current_mileage"`
	MileageAtLastVisit  int         `json:"mileage_at_last_visit"`
	MileageSinceService int         `json:"mileage_since_service"`
	NoMileageData       bool        `json:"no_mileage_data,omitempty"`
}

type carFacts struct {
	clientID, clientName, clientPhone string
	carID, plate                      string
	lastServiceDate                   *time.Time
	currentMileage                    int
	mileageAtLastVisit                int
}

func (s *Store) garageCarFacts(ctx context.Context, garageID string) ([]carFacts, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT cl.id, cl.name, cl.phone, c.id, c.license_plate, c.last_service_date, c.current_mileage,
		       COALESCE((SELECT v.mileage_at_visit FROM service_visits v
		                 WHERE v.car_id = c.id ORDER BY v.service_date DESC LIMIT 1), 0)
		FROM cars c
		JOIN clients cl ON cl.id = c.client_id
		WHERE cl.garage_id = $1`, garageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []carFacts
	for rows.Next() {
		var f carFacts
		if err := rows.Scan(&f.clientID, &f.clientName, &f.clientPhone, &f.carID, &f.plate,
			&f.lastServiceDate, &f.currentMileage, &f.mileageAtLastVisit); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EvaluateRules produces candidates for every active rule of the garage.
//
// TIME rules qualify cars that were never serviced, or whose days since
// service reach threshold - lookaheadDays (the lookahead widens which
// future-due cars are considered; scheduling stays immediate).
//
// MILEAGE rules qualify cars whose mileage since the last visit reaches the
// threshold. Cars without mileage data are emitted flagged, so generation
// can persist the blocked item instead of silently dropping them.
func (s *Store) EvaluateRules(ctx context.Context, garageID string, now time.Time, lookaheadDays int) ([]Candidate, error) {
	rules, err := s.ListActiveRules(ctx, garageID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	facts, err := s.garageCarFacts(ctx, garageID)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, rule := range rules {
		for _, f := range facts {
			switch rule.Type {
			case RuleTime:
				if c, ok := timeCandidate(rule, f, now, lookaheadDays); ok {
					out = append(out, c)
				}
			case RuleMileage:
				if c, ok := mileageCandidate(rule, f); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func timeCandidate(rule RetentionRule, f carFacts, now time.Time, lookaheadDays int) (Candidate, bool) {
	c := baseCandidate(rule, f, TriggerServiceDueTime)
	if f.lastServiceDate == nil {
		return c, true
	}
	days := int(now.Sub(*f.lastServiceDate).Hours() / 24)
	if days < rule.Threshold-lookaheadDays {
		return Candidate{}, false
	}
	c.DaysSinceService = &days
	return c, true
}

func mileageCandidate(rule RetentionRule, f carFacts) (Candidate, bool) {
	c := baseCandidate(rule, f, TriggerServiceDueMileage)
	if f.currentMileage <= 0 {
		c.NoMileageData = true
		return c, true
	}
	c.MileageSinceService = f.currentMileage - f.mileageAtLastVisit
	if c.MileageSinceService < rule.Threshold {
		return Candidate{}, false
	}
	return c, true
}

func baseCandidate(rule RetentionRule, f carFacts, trigger TriggerType) Candidate {
	return Candidate{
		RuleID:             rule.ID,
		RuleType:           rule.Type,
		TriggerType:        trigger,
		ClientID:           f.clientID,
		ClientName:         f.clientName,
		ClientPhone:        f.clientPhone,
		CarID:              f.carID,
		LicensePlate:       f.plate,
		LastServiceDate:    f.lastServiceDate,
		CurrentMileage:     f.currentMileage,
		MileageAtLastVisit: f.mileageAtLastVisit,
	}
}
