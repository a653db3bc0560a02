package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iosfx/autoservice/internal/core"
	"github.com/iosfx/autoservice/internal/db"
)

type okProvider struct {
	mu   sync.Mutex
	sent int
}

func (p *okProvider) SendMessage(context.Context, string, string, core.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent++
	return nil
}

func (p *okProvider) Name() string { return "ok" }

func (p *okProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func TestRunner_GenerateAndDispatchSweep(t *testing.T) {
	ctx := context.Background()
	store := &core.Store{DB: db.StartTestPostgres(t)}

	garage, _, err := store.CreateGarageWithUser(ctx, "Garage Central", "Europe/Bucharest",
		"owner@garage.test", "not-a-real-hash", nil)
	require.NoError(t, err)
	_, err = store.SeedDefaultTemplates(ctx, garage.ID, false)
	require.NoError(t, err)

	client, err := store.CreateClient(ctx, garage.ID, "Ion Popescu", "+40722000001", nil)
	require.NoError(t, err)
	_, err = store.CreateCar(ctx, garage.ID, core.Car{
		ClientID: client.ID, LicensePlate: "B-123-XYZ", CurrentMileage: 40000,
	})
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, core.RetentionRule{
		GarageID: garage.ID, Type: core.RuleTime, Threshold: 90,
		MessageTemplate: "retention_service_due_time_sms",
	})
	require.NoError(t, err)

	prov := &okProvider{}
	r := New(store, core.NewDispatcher(store, prov), DefaultConfig())

	r.GenerateAll(ctx)
	r.DispatchAll(ctx)
	require.Equal(t, 1, prov.count())

	var sent int
	require.NoError(t, store.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_queue WHERE garage_id=$1 AND status='SENT'`, garage.ID).Scan(&sent))
	require.Equal(t, 1, sent)

	// a pending item blocks regeneration for the same tuple
	r.GenerateAll(ctx)
	var active int
	require.NoError(t, store.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM message_queue
		WHERE garage_id=$1 AND status IN ('SCHEDULED','DUE','SENDING')`, garage.ID).Scan(&active))
	require.Equal(t, 1, active)
	r.GenerateAll(ctx)
	require.NoError(t, store.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM message_queue
		WHERE garage_id=$1 AND status IN ('SCHEDULED','DUE','SENDING')`, garage.ID).Scan(&active))
	require.Equal(t, 1, active)
}

func TestRunner_StartRejectsBadCron(t *testing.T) {
	store := &core.Store{}
	r := New(store, core.NewDispatcher(store, &okProvider{}), Config{GenerationSpec: "not a cron"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, r.Start(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0 6 * * *", cfg.GenerationSpec)
	require.Equal(t, time.Minute, cfg.DispatchInterval)
	require.Equal(t, 50, cfg.DispatchBatch)
	require.Equal(t, 14, cfg.LookaheadDays)
}
