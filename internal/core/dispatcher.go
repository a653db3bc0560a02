package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iosfx/autoservice/internal/db"
)

// MessagingProvider is the delivery capability the dispatcher depends on.
// A send that the carrier itself rejected must be reported as *SendFailure;
// any other error is treated as unexpected and fails the item hard.
type MessagingProvider interface {
	SendMessage(ctx context.Context, phone, content string, channel Channel) error
	Name() string
}

// SendFailure is a provider-reported delivery failure. It drives the retry
// and backoff machinery instead of propagating to callers.
type SendFailure struct {
	Reason string
}

func (e *SendFailure) Error() string { return e.Reason }

// retryBackoff is indexed by attempt number: 1st retry 15m, 2nd 60m,
// 3rd and beyond 360m.
var retryBackoff = []time.Duration{15 * time.Minute, 60 * time.Minute, 360 * time.Minute}

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}
	return retryBackoff[attempt-1]
}

// Dispatcher drives queue items through the send lifecycle. The provider is
// an explicit constructor dependency; there is no process-wide singleton.
type Dispatcher struct {
	Store    *Store
	Provider MessagingProvider
}

func NewDispatcher(store *Store, provider MessagingProvider) *Dispatcher {
	return &Dispatcher{Store: store, Provider: provider}
}

type DispatchResult struct {
	MessageQueueID string     `json:"message_queue_id"`
	Success        bool       `json:"success"`
	Retry          bool       `json:"retry,omitempty"`
	RetryAt        *time.Time `json:"retry_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type BatchResult struct {
	Total  int      `json:"total"`
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// DispatchMessage attempts delivery of a single queue item.
func (d *Dispatcher) DispatchMessage(ctx context.Context, id string) (DispatchResult, error) {
	item, err := d.Store.GetQueueItem(ctx, id)
	if err != nil {
		return DispatchResult{}, err
	}

	switch item.Status {
	case StatusSent:
		return DispatchResult{}, &InvalidTransitionError{Status: item.Status, Reason: "message already sent"}
	case StatusCanceled:
		return DispatchResult{}, &InvalidTransitionError{Status: item.Status, Reason: "message was canceled"}
	case StatusBlocked:
		reason := "message is blocked"
		if item.BlockedReason != nil {
			reason = fmt.Sprintf("message is blocked: %s", *item.BlockedReason)
		}
		return DispatchResult{}, &InvalidTransitionError{Status: item.Status, Reason: reason}
	case StatusSending:
		return DispatchResult{}, &InvalidTransitionError{Status: item.Status, Reason: "message is currently being sent"}
	}

	// Claim the item. The status predicate makes this a compare-and-swap:
	// zero rows means another dispatch pass won the claim.
	tag, err := d.Store.DB.Exec(ctx, `
		UPDATE message_queue SET status=$2, updated_at=now()
		WHERE id=$1 AND status IN ('DUE','SCHEDULED')`, id, StatusSending)
	if err != nil {
		return DispatchResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return DispatchResult{}, &InvalidTransitionError{Status: item.Status, Reason: "message claimed by another dispatch pass"}
	}

	var phone string
	err = d.Store.DB.QueryRow(ctx, `SELECT phone FROM clients WHERE id=$1`, item.ClientID).Scan(&phone)
	if err != nil {
		return DispatchResult{}, d.failUnexpected(ctx, item, fmt.Errorf("load client phone: %w", err))
	}

	content, err := d.resolveContent(ctx, item)
	if err != nil {
		return DispatchResult{}, err
	}

	sendErr := d.Provider.SendMessage(ctx, phone, content, item.Channel)
	switch {
	case sendErr == nil:
		if err := d.markSent(ctx, item, content); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{MessageQueueID: item.ID, Success: true}, nil

	default:
		var failure *SendFailure
		if errors.As(sendErr, &failure) {
			return d.handleSendFailure(ctx, item, content, failure.Reason)
		}
		return DispatchResult{}, d.failUnexpected(ctx, item, sendErr)
	}
}

// resolveContent uses the cached preview when present; otherwise it
// re-renders from the stored variable snapshot.
func (d *Dispatcher) resolveContent(ctx context.Context, item QueueItem) (string, error) {
	if item.RenderedPreview != nil && *item.RenderedPreview != "" {
		return *item.RenderedPreview, nil
	}

	tpl, err := d.Store.ResolveTemplate(ctx, item.GarageID, item.TriggerType, item.Channel)
	if err == ErrNotFound {
		reason := "template not found for this trigger type and channel"
		var n int
		if cErr := d.Store.DB.QueryRow(ctx, `
			SELECT COUNT(*) FROM message_templates
			WHERE garage_id=$1 AND trigger_type=$2 AND channel=$3 AND NOT enabled`,
			item.GarageID, item.TriggerType, item.Channel).Scan(&n); cErr == nil && n > 0 {
			reason = "template is disabled"
		}
		_, _ = d.Store.DB.Exec(ctx, `
			UPDATE message_queue SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`,
			item.ID, StatusFailed, reason)
		return "", fmt.Errorf("%s", reason)
	}
	if err != nil {
		return "", d.failUnexpected(ctx, item, err)
	}
	return RenderTemplate(tpl.Body, item.Variables).Rendered, nil
}

// markSent flips the item to SENT and appends the log entry in one
// transaction so the audit trail can never disagree with the queue.
func (d *Dispatcher) markSent(ctx context.Context, item QueueItem, content string) error {
	return db.WithTx(ctx, d.Store.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE message_queue SET status=$2, sent_at=now(), last_error=NULL, updated_at=now()
			WHERE id=$1`, item.ID, StatusSent)
		if err != nil {
			return err
		}
		return d.Store.appendMessageLog(ctx, tx, MessageLog{
			GarageID:       item.GarageID,
			ClientID:       item.ClientID,
			MessageQueueID: &item.ID,
			Channel:        item.Channel,
			Content:        content,
			Status:         string(StatusSent),
		})
	})
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, item QueueItem, content, reason string) (DispatchResult, error) {
	if reason == "" {
		reason = "unknown error"
	}
	newRetry := item.RetryCount + 1

	res := DispatchResult{MessageQueueID: item.ID, Error: reason}
	err := db.WithTx(ctx, d.Store.DB, func(tx pgx.Tx) error {
		var err error
		if newRetry < item.MaxRetries {
			retryAt := time.Now().Add(backoffFor(newRetry))
			_, err = tx.Exec(ctx, `
				UPDATE message_queue SET status=$2, retry_count=$3, last_error=$4, scheduled_for=$5, updated_at=now()
				WHERE id=$1`, item.ID, StatusScheduled, newRetry, reason, retryAt)
			res.Retry = true
			res.RetryAt = &retryAt
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE message_queue SET status=$2, retry_count=$3, last_error=$4, updated_at=now()
				WHERE id=$1`, item.ID, StatusFailed, newRetry, reason)
		}
		if err != nil {
			return err
		}

		return d.Store.appendMessageLog(ctx, tx, MessageLog{
			GarageID:       item.GarageID,
			ClientID:       item.ClientID,
			MessageQueueID: &item.ID,
			Channel:        item.Channel,
			Content:        content,
			Status:         string(StatusFailed),
			ErrorMessage:   &reason,
		})
	})
	if err != nil {
		return DispatchResult{}, err
	}
	return res, nil
}

// failUnexpected marks the item FAILED and returns the original error so the
// caller sees the operation as incomplete.
func (d *Dispatcher) failUnexpected(ctx context.Context, item QueueItem, cause error) error {
	_, _ = d.Store.DB.Exec(ctx, `
		UPDATE message_queue SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`,
		item.ID, StatusFailed, cause.Error())
	return cause
}

// DispatchDueMessages sends every SCHEDULED/DUE item whose time has come,
// oldest first, up to limit. Per-item failures are collected, never fatal
// for the batch.
func (d *Dispatcher) DispatchDueMessages(ctx context.Context, garageID string, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.Store.DB.Query(ctx, `
		SELECT id FROM message_queue
		WHERE garage_id=$1 AND status IN ('SCHEDULED','DUE') AND scheduled_for <= now()
		ORDER BY scheduled_for ASC
		LIMIT $2`, garageID, limit)
	if err != nil {
		return BatchResult{}, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return BatchResult{}, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Total: len(ids)}
	for _, id := range ids {
		out, err := d.DispatchMessage(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", id, err))
		case !out.Success:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("message %s: %s", id, out.Error))
		default:
			res.Sent++
		}
	}
	return res, nil
}

// CancelMessage transitions a pending item to CANCELED. Items already sent,
// in flight, or canceled are rejected without side effects.
func (d *Dispatcher) CancelMessage(ctx context.Context, id, garageID string) (QueueItem, error) {
	item, err := d.Store.GetQueueItemForGarage(ctx, id, garageID)
	if err != nil {
		return QueueItem{}, err
	}
	if !CanTransition(item.Status, StatusCanceled) {
		return QueueItem{}, &InvalidTransitionError{Status: item.Status, Reason: cancelReason(item.Status)}
	}
	return scanQueueItem(d.Store.DB.QueryRow(ctx, `
		UPDATE message_queue SET status=$3, canceled_at=now(), updated_at=now()
		WHERE id=$1 AND garage_id=$2 AND status=$4
		RETURNING `+queueCols, id, garageID, StatusCanceled, item.Status))
}

func cancelReason(s QueueStatus) string {
	switch s {
	case StatusSent:
		return "cannot cancel a message that has already been sent"
	case StatusSending:
		return "cannot cancel a message that is currently being sent"
	case StatusCanceled:
		return "message is already canceled"
	}
	return "cancel not permitted"
}

// RescheduleMessage moves an item to a new time and forces SCHEDULED. This
// is the path that revives BLOCKED and FAILED items.
func (d *Dispatcher) RescheduleMessage(ctx context.Context, id, garageID string, at time.Time) (QueueItem, error) {
	item, err := d.Store.GetQueueItemForGarage(ctx, id, garageID)
	if err != nil {
		return QueueItem{}, err
	}
	switch item.Status {
	case StatusSent:
		return QueueItem{}, &InvalidTransitionError{Status: item.Status, Reason: "cannot reschedule a message that has already been sent"}
	case StatusCanceled:
		return QueueItem{}, &InvalidTransitionError{Status: item.Status, Reason: "cannot reschedule a canceled message"}
	}
	return scanQueueItem(d.Store.DB.QueryRow(ctx, `
		UPDATE message_queue SET status=$3, scheduled_for=$4, blocked_reason=NULL, updated_at=now()
		WHERE id=$1 AND garage_id=$2
		RETURNING `+queueCols, id, garageID, StatusScheduled, at))
}

type QueueStats struct {
	DueCount         int             `json:"due_count"`
	ScheduledCount   int             `json:"scheduled_count"`
	SendingCount     int             `json:"sending_count"`
	FailedCount      int             `json:"failed_count"`
	BlockedCount     int             `json:"blocked_count"`
	SentLast24hCount int             `json:"sent_last_24h_count"`
	NextScheduled    []QueueItemView `json:"next_scheduled"`
}

// GetQueueStats returns status counts, deliveries in the last 24 hours, and
// the next 10 upcoming items.
func (d *Dispatcher) GetQueueStats(ctx context.Context, garageID string) (QueueStats, error) {
	var st QueueStats
	err := d.Store.DB.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status='DUE'),
			COUNT(*) FILTER (WHERE status='SCHEDULED'),
			COUNT(*) FILTER (WHERE status='SENDING'),
			COUNT(*) FILTER (WHERE status='FAILED'),
			COUNT(*) FILTER (WHERE status='BLOCKED'),
			COUNT(*) FILTER (WHERE status='SENT' AND sent_at >= now() - interval '24 hours')
		FROM message_queue WHERE garage_id=$1`, garageID,
	).Scan(&st.DueCount, &st.ScheduledCount, &st.SendingCount, &st.FailedCount,
		&st.BlockedCount, &st.SentLast24hCount)
	if err != nil {
		return st, err
	}

	rows, err := d.Store.DB.Query(ctx, `
		SELECT q.id, cl.name, cl.phone, c.license_plate, q.trigger_type, q.channel,
		       q.scheduled_for, q.rendered_preview, q.status, q.blocked_reason
		FROM message_queue q
		JOIN clients cl ON cl.id = q.client_id
		LEFT JOIN cars c ON c.id = q.car_id
		WHERE q.garage_id=$1 AND q.status IN ('SCHEDULED','DUE')
		ORDER BY q.scheduled_for ASC
		LIMIT 10`, garageID)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var v QueueItemView
		if err := rows.Scan(&v.ID, &v.ClientName, &v.ClientPhone, &v.CarLicensePlate,
			&v.TriggerType, &v.Channel, &v.ScheduledFor, &v.RenderedPreview,
			&v.Status, &v.BlockedReason); err != nil {
			return st, err
		}
		st.NextScheduled = append(st.NextScheduled, v)
	}
	return st, rows.Err()
}

// ReleaseStuckSending requeues items left in SENDING longer than olderThan,
// the reconciliation pass for crashes mid-dispatch. Callers choose the age;
// there is no built-in default.
func (d *Dispatcher) ReleaseStuckSending(ctx context.Context, garageID string, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, validationf("olderThan must be positive")
	}
	tag, err := d.Store.DB.Exec(ctx, `
		UPDATE message_queue
		SET status=$2, last_error='released after dispatch stall', updated_at=now()
		WHERE garage_id=$1 AND status=$3 AND updated_at <= now() - $4::interval`,
		garageID, StatusScheduled, StatusSending, olderThan.String())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SendDirect delivers ad-hoc content to a client outside the queue and logs
// the attempt.
func (d *Dispatcher) SendDirect(ctx context.Context, garageID, clientID string, channel Channel, content string) (MessageLog, error) {
	if content == "" {
		return MessageLog{}, validationf("content is required")
	}
	if channel != ChannelSMS && channel != ChannelWhatsApp {
		return MessageLog{}, validationf("channel must be SMS or WHATSAPP")
	}
	client, err := d.Store.GetClient(ctx, clientID, garageID)
	if err != nil {
		return MessageLog{}, err
	}

	entry := MessageLog{
		GarageID: garageID,
		ClientID: clientID,
		Channel:  channel,
		Content:  content,
		Status:   string(StatusSent),
	}
	sendErr := d.Provider.SendMessage(ctx, client.Phone, content, channel)
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = string(StatusFailed)
		entry.ErrorMessage = &msg
	}
	if err := d.Store.AppendMessageLog(ctx, entry); err != nil {
		return MessageLog{}, err
	}
	entry.SentAt = time.Now()
	if sendErr != nil {
		var failure *SendFailure
		if errors.As(sendErr, &failure) {
			return entry, nil // provider-reported, surfaced via the log entry
		}
		return entry, sendErr
	}
	return entry, nil
}
