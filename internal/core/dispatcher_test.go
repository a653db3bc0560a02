package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iosfx/autoservice/internal/core"
)

// stubProvider records sends and can be told to fail.
type stubProvider struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (p *stubProvider) SendMessage(_ context.Context, phone, content string, _ core.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, phone+" "+content)
	return nil
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// dueItem generates exactly one DUE queue item via a never-serviced car.
func dueItem(t *testing.T, f *fixture) core.QueueItem {
	t.Helper()
	f.addCar(t, "B-123-XYZ", 40000, nil)
	f.addTimeRule(t, 90)
	res, err := f.store.RunRetentionGeneration(context.Background(), f.garage.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	return res.Items[0]
}

func TestDispatch_SuccessMarksSentAndLogs(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)

	item := dueItem(t, f)

	res, err := disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, item.ID, res.MessageQueueID)
	require.Equal(t, 1, prov.count())

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.Nil(t, got.LastError)

	logs, err := f.store.ListClientMessages(ctx, f.client.ID, f.garage.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "SENT", logs[0].Status)
	require.NotNil(t, logs[0].MessageQueueID)
	require.Equal(t, item.ID, *logs[0].MessageQueueID)
}

func TestDispatch_SentItemIsRejectedUnchanged(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)

	item := dueItem(t, f)
	_, err := disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)

	before, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)

	_, err = disp.DispatchMessage(ctx, item.ID)
	var te *core.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	require.Contains(t, err.Error(), "message already sent")

	after, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.Equal(t, before.SentAt.UTC(), after.SentAt.UTC())
	require.Equal(t, 1, prov.count())
}

func TestDispatch_ProviderFailureWalksBackoffThenFails(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{err: &core.SendFailure{Reason: "carrier rejected"}}
	disp := core.NewDispatcher(f.store, prov)

	item := dueItem(t, f)
	require.Equal(t, 3, item.MaxRetries)

	// 1st attempt: retry in ~15m
	res, err := disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.Retry)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), *res.RetryAt, time.Minute)

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusScheduled, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, "carrier rejected", *got.LastError)

	// 2nd attempt: retry in ~60m
	res, err = disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, res.Retry)
	require.WithinDuration(t, time.Now().Add(60*time.Minute), *res.RetryAt, time.Minute)

	// 3rd attempt: retries exhausted
	res, err = disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, res.Retry)
	require.Equal(t, "carrier rejected", res.Error)

	got, err = f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.Equal(t, 3, got.RetryCount)

	logs, err := f.store.ListClientMessages(ctx, f.client.ID, f.garage.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		require.Equal(t, "FAILED", l.Status)
		require.NotNil(t, l.ErrorMessage)
	}
}

func TestDispatch_UnexpectedErrorFailsHard(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{err: errors.New("tcp reset")}
	disp := core.NewDispatcher(f.store, prov)

	item := dueItem(t, f)

	_, err := disp.DispatchMessage(ctx, item.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tcp reset")

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.Equal(t, 0, got.RetryCount) // no retry path for unexpected errors
}

func TestDispatch_BlockedItemRejected(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	f.addCar(t, "B-77-AAA", 0, nil)
	f.addMileageRule(t, 10000)
	res, err := f.store.RunRetentionGeneration(ctx, f.garage.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Blocked)

	_, err = disp.DispatchMessage(ctx, res.Items[0].ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "message is blocked: No mileage data available")
}

func TestCancel_PendingOnly(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)

	item := dueItem(t, f)

	canceled, err := disp.CancelMessage(ctx, item.ID, f.garage.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)

	_, err = disp.CancelMessage(ctx, item.ID, f.garage.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already canceled")

	_, err = disp.DispatchMessage(ctx, item.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "message was canceled")
	require.Equal(t, 0, prov.count())

	// wrong garage never sees the item
	_, err = disp.CancelMessage(ctx, item.ID, "other-garage")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCancel_SentRejected(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	item := dueItem(t, f)
	_, err := disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)

	_, err = disp.CancelMessage(ctx, item.ID, f.garage.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already been sent")
}

func TestReschedule_RevivesFailedAndBlocked(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	item := dueItem(t, f)
	_, err := f.store.DB.Exec(ctx,
		`UPDATE message_queue SET status='FAILED', last_error='x' WHERE id=$1`, item.ID)
	require.NoError(t, err)

	at := time.Now().Add(48 * time.Hour)
	revived, err := disp.RescheduleMessage(ctx, item.ID, f.garage.ID, at)
	require.NoError(t, err)
	require.Equal(t, core.StatusScheduled, revived.Status)
	require.Nil(t, revived.BlockedReason)
	require.WithinDuration(t, at, revived.ScheduledFor, time.Second)
}

func TestReschedule_TerminalRejected(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	item := dueItem(t, f)
	_, err := disp.DispatchMessage(ctx, item.ID)
	require.NoError(t, err)

	_, err = disp.RescheduleMessage(ctx, item.ID, f.garage.ID, time.Now().Add(time.Hour))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already been sent")
}

func TestQueueStats(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	// car1: overdue by time, fresh by mileage -> one DUE item
	car1 := f.addCar(t, "B-01-STS", 35000, nil)
	_, err := f.store.RecordServiceVisit(ctx, f.garage.ID, core.ServiceVisit{
		CarID: car1.ID, ServiceDate: *daysAgo(120), MileageAtVisit: 35000,
	})
	require.NoError(t, err)
	_, err = f.store.UpdateCarMileage(ctx, car1.ID, f.garage.ID, 40000)
	require.NoError(t, err)

	// car2: recent service but no mileage data -> one BLOCKED item
	f.addCar(t, "B-02-STS", 0, daysAgo(10))

	f.addTimeRule(t, 90)
	f.addMileageRule(t, 10000)

	res, err := f.store.RunRetentionGeneration(ctx, f.garage.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 1, res.Blocked)

	st, err := disp.GetQueueStats(ctx, f.garage.ID)
	require.NoError(t, err)
	require.Equal(t, 1, st.DueCount)
	require.Equal(t, 1, st.BlockedCount)
	require.Equal(t, 0, st.SentLast24hCount)
	require.Len(t, st.NextScheduled, 1)
	require.Equal(t, "Ion Popescu", st.NextScheduled[0].ClientName)
}

func TestReleaseStuckSending(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	disp := core.NewDispatcher(f.store, &stubProvider{})

	item := dueItem(t, f)
	_, err := f.store.DB.Exec(ctx, `
		UPDATE message_queue SET status='SENDING', updated_at=now() - interval '30 minutes'
		WHERE id=$1`, item.ID)
	require.NoError(t, err)

	n, err := disp.ReleaseStuckSending(ctx, f.garage.ID, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusScheduled, got.Status)

	// a fresh SENDING item is left alone
	_, err = f.store.DB.Exec(ctx,
		`UPDATE message_queue SET status='SENDING', updated_at=now() WHERE id=$1`, item.ID)
	require.NoError(t, err)
	n, err = disp.ReleaseStuckSending(ctx, f.garage.ID, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = disp.ReleaseStuckSending(ctx, f.garage.ID, 0)
	require.Error(t, err)
}

func TestDispatchDueMessages_BatchesAndRespectsSchedule(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)

	f.addCar(t, "B-01-BTC", 40000, nil)
	f.addCar(t, "B-02-BTC", 41000, nil)
	f.addTimeRule(t, 90)

	res, err := f.store.RunRetentionGeneration(ctx, f.garage.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)

	// push one item into the future; the batch must not touch it
	deferred := res.Items[0].ID
	_, err = f.store.DB.Exec(ctx,
		`UPDATE message_queue SET scheduled_for=now() + interval '1 day' WHERE id=$1`, deferred)
	require.NoError(t, err)

	batch, err := disp.DispatchDueMessages(ctx, f.garage.ID, 50)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Total)
	require.Equal(t, 1, batch.Sent)
	require.Equal(t, 0, batch.Failed)
	require.Equal(t, 1, prov.count())

	got, err := f.store.GetQueueItem(ctx, deferred)
	require.NoError(t, err)
	require.Equal(t, core.StatusDue, got.Status)
}

func TestSendDirect(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	ok := core.NewDispatcher(f.store, &stubProvider{})
	entry, err := ok.SendDirect(ctx, f.garage.ID, f.client.ID, core.ChannelSMS, "Mașina este gata!")
	require.NoError(t, err)
	require.Equal(t, "SENT", entry.Status)

	failing := core.NewDispatcher(f.store, &stubProvider{err: &core.SendFailure{Reason: "number unreachable"}})
	entry, err = failing.SendDirect(ctx, f.garage.ID, f.client.ID, core.ChannelSMS, "test")
	require.NoError(t, err) // provider-reported failures surface via the entry
	require.Equal(t, "FAILED", entry.Status)
	require.Equal(t, "number unreachable", *entry.ErrorMessage)

	_, err = ok.SendDirect(ctx, f.garage.ID, f.client.ID, "EMAIL", "test")
	require.Error(t, err)

	_, err = ok.SendDirect(ctx, f.garage.ID, "missing-client", core.ChannelSMS, "test")
	require.ErrorIs(t, err, core.ErrNotFound)
}
