package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iosfx/autoservice/internal/core"
)

func (f *fixture) addJob(t *testing.T, carID string, at time.Time) core.Job {
	t.Helper()
	job, err := f.store.CreateJob(context.Background(), f.garage.ID, core.Job{
		ClientID:      f.client.ID,
		CarID:         carID,
		Title:         "Revizie completă",
		ScheduledDate: at,
	})
	require.NoError(t, err)
	return job
}

func TestJobs_CreateAndListByDate(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	car := f.addCar(t, "B-77-JOB", 50000, nil)

	today := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	j1 := f.addJob(t, car.ID, today)
	f.addJob(t, car.ID, tomorrow)

	require.Equal(t, core.JobScheduled, j1.Status)

	// day filter catches only the first job
	all, err := f.store.ListJobsByDate(ctx, f.garage.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	day, err := f.store.ListJobsByDate(ctx, f.garage.ID, &today)
	require.NoError(t, err)
	require.Len(t, day, 1)
	require.Equal(t, j1.ID, day[0].ID)
	require.Equal(t, f.client.Name, day[0].ClientName)
	require.Equal(t, "B-77-JOB", day[0].CarLicensePlate)
}

func TestJobs_CreateValidation(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	car := f.addCar(t, "B-77-JOB", 50000, nil)

	var ve *core.ValidationError

	_, err := f.store.CreateJob(ctx, f.garage.ID, core.Job{
		ClientID: f.client.ID, CarID: car.ID, ScheduledDate: time.Now(),
	})
	require.ErrorAs(t, err, &ve)

	// car owned by a different client
	other, err := f.store.CreateClient(ctx, f.garage.ID, "Maria Ionescu", "+40722000002", nil)
	require.NoError(t, err)
	_, err = f.store.CreateJob(ctx, f.garage.ID, core.Job{
		ClientID: other.ID, CarID: car.ID, Title: "Revizie", ScheduledDate: time.Now(),
	})
	require.ErrorAs(t, err, &ve)
}

func TestJobs_UpdateStatusRejectsUnknownValue(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	car := f.addCar(t, "B-77-JOB", 50000, nil)
	job := f.addJob(t, car.ID, time.Now())

	var ve *core.ValidationError
	_, err := f.store.UpdateJobStatus(ctx, job.ID, f.garage.ID, core.JobStatus("DONE"))
	require.ErrorAs(t, err, &ve)

	got, err := f.store.UpdateJobStatus(ctx, job.ID, f.garage.ID, core.JobInProgress)
	require.NoError(t, err)
	require.Equal(t, core.JobInProgress, got.Status)
}

func TestJobs_SetStatusSendsExplicitMessage(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)
	car := f.addCar(t, "B-77-JOB", 50000, nil)
	job := f.addJob(t, car.ID, time.Now())

	got, err := disp.SetJobStatus(ctx, job.ID, f.garage.ID, core.JobCompleted, "Vă mulțumim pentru vizită!")
	require.NoError(t, err)
	require.Equal(t, core.JobCompleted, got.Status)
	require.Equal(t, 1, prov.count())

	logs, err := f.store.ListClientMessages(ctx, f.client.ID, f.garage.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, core.ChannelWhatsApp, logs[0].Channel)
	require.Equal(t, "Vă mulțumim pentru vizită!", logs[0].Content)
}

func TestJobs_ReadyFallsBackToTemplate(t *testing.T) {
	f := setup(t, true) // seeds the ready templates
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)
	car := f.addCar(t, "B-77-JOB", 50000, nil)
	job := f.addJob(t, car.ID, time.Now())

	got, err := disp.SetJobStatus(ctx, job.ID, f.garage.ID, core.JobReady, "")
	require.NoError(t, err)
	require.Equal(t, core.JobReady, got.Status)
	require.Equal(t, 1, prov.count())

	logs, err := f.store.ListClientMessages(ctx, f.client.ID, f.garage.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Contains(t, logs[0].Content, "B-77-JOB")
	require.NotContains(t, logs[0].Content, "{{")
}

func TestJobs_ReadyWithoutTemplateSendsNothing(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	prov := &stubProvider{}
	disp := core.NewDispatcher(f.store, prov)
	car := f.addCar(t, "B-77-JOB", 50000, nil)
	job := f.addJob(t, car.ID, time.Now())

	_, err := disp.SetJobStatus(ctx, job.ID, f.garage.ID, core.JobReady, "")
	require.NoError(t, err)
	require.Equal(t, 0, prov.count())
}

func TestJobs_AppointmentRemindersEnqueueOnceAndRender(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	car := f.addCar(t, "B-77-JOB", 50000, nil)

	now := time.Now()
	f.addJob(t, car.ID, now.Add(6*time.Hour))  // in the 24h window
	f.addJob(t, car.ID, now.Add(72*time.Hour)) // too far out
	f.addJob(t, car.ID, now.Add(-time.Hour))   // already started

	res, err := f.store.EnqueueAppointmentReminders(ctx, f.garage.ID, now)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 0, res.Blocked)
	require.Len(t, res.Items, 1)

	item := res.Items[0]
	require.Equal(t, core.TriggerApptReminder, item.TriggerType)
	require.Equal(t, core.StatusDue, item.Status)
	require.NotNil(t, item.RenderedPreview)
	require.Contains(t, *item.RenderedPreview, "B-77-JOB")
	require.Contains(t, *item.RenderedPreview, now.Add(6*time.Hour).Format("2006-01-02"))

	// second sweep skips: the reminder already occupies the dedup tuple
	again, err := f.store.EnqueueAppointmentReminders(ctx, f.garage.ID, now)
	require.NoError(t, err)
	require.Equal(t, 0, again.Created)
	require.Equal(t, 1, again.Skipped)
}

func TestJobs_AppointmentReminderBlockedWithoutTemplate(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	car := f.addCar(t, "B-77-JOB", 50000, nil)
	f.addJob(t, car.ID, time.Now().Add(6*time.Hour))

	res, err := f.store.EnqueueAppointmentReminders(ctx, f.garage.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 1, res.Blocked)
	require.Equal(t, core.StatusBlocked, res.Items[0].Status)
}
