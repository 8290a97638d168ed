package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/store"
	util "github.com/vocero-ai/vocero/test/util"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	return store.New(util.SetupTestDatabase(t))
}

// seedCall inserts the call row most event/dispatch tests hang off of.
func seedCall(t *testing.T, s *store.Store) *models.Call {
	t.Helper()
	call, err := s.CreateCall(context.Background(), store.CreateCallInput{
		TenantID:      "tenant-1",
		AgentID:       "agent-1",
		TwilioCallSID: "CA" + uuid.New().String(),
		Room:          "room-" + uuid.New().String(),
	})
	require.NoError(t, err)
	return call
}

func TestAppendAndClaimEvents(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	ev, err := s.AppendEvent(ctx, call.ID, models.EventHandoffRequested, models.HandoffRequestedPayload{
		TenantID:      call.TenantID,
		AgentID:       call.AgentID,
		TwilioCallSID: call.TwilioCallSID,
		Room:          call.Room,
		TraceID:       "trace-1",
	})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)
	assert.Equal(t, models.EventHandoffRequested, ev.Type)
	assert.Nil(t, ev.ProcessedAt)

	// Claiming bumps processing_attempts and hides nothing from a later
	// poll until finalized.
	claimed, err := s.ClaimEvents(ctx, models.EventHandoffRequested, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, ev.ID, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].ProcessingAttempts)

	var payload models.HandoffRequestedPayload
	require.NoError(t, json.Unmarshal(claimed[0].Payload, &payload))
	assert.Equal(t, "trace-1", payload.TraceID)

	require.NoError(t, s.MarkEventProcessed(ctx, ev.ID))

	claimed, err = s.ClaimEvents(ctx, models.EventHandoffRequested, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimEventsOrderAndTypeFilter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	first, err := s.AppendEvent(ctx, call.ID, models.EventCallEnded, map[string]string{"n": "1"})
	require.NoError(t, err)
	second, err := s.AppendEvent(ctx, call.ID, models.EventCallEnded, map[string]string{"n": "2"})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, call.ID, models.EventHandoffRequested, map[string]string{})
	require.NoError(t, err)

	claimed, err := s.ClaimEvents(ctx, models.EventCallEnded, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)
}

func TestMarkEventFailedRetryAndFinalize(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	ev, err := s.AppendEvent(ctx, call.ID, models.EventHandoffRequested, map[string]string{})
	require.NoError(t, err)

	// Non-final failure keeps the event claimable.
	require.NoError(t, s.MarkEventFailed(ctx, ev.ID, "room provisioning failed", false))
	claimed, err := s.ClaimEvents(ctx, models.EventHandoffRequested, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].LastError)
	assert.Equal(t, "room provisioning failed", *claimed[0].LastError)

	// Finalizing removes it from the backlog without deleting it.
	require.NoError(t, s.MarkEventFailed(ctx, ev.ID, "attempts exhausted", true))
	claimed, err = s.ClaimEvents(ctx, models.EventHandoffRequested, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	events, err := s.ListCallEvents(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ProcessedAt)
	require.NotNil(t, events[0].LastError)
	assert.Equal(t, "attempts exhausted", *events[0].LastError)
}

func TestCountEventBacklog(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	_, err := s.AppendEvent(ctx, call.ID, models.EventHandoffRequested, map[string]string{})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, call.ID, models.EventHandoffRequested, map[string]string{})
	require.NoError(t, err)
	done, err := s.AppendEvent(ctx, call.ID, models.EventCallEnded, map[string]string{})
	require.NoError(t, err)
	require.NoError(t, s.MarkEventProcessed(ctx, done.ID))

	backlog, err := s.CountEventBacklog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backlog[models.EventHandoffRequested])
	assert.Zero(t, backlog[models.EventCallEnded])
}

func upsertDispatch(t *testing.T, s *store.Store, call *models.Call, traceID, token string, ttl time.Duration) *models.RuntimeDispatch {
	t.Helper()
	d, err := s.UpsertDispatch(context.Background(), store.UpsertDispatchInput{
		CallID:        call.ID,
		TraceID:       traceID,
		TenantID:      call.TenantID,
		AgentID:       call.AgentID,
		TwilioCallSID: call.TwilioCallSID,
		Room:          call.Room,
		JoinToken:     token,
		ExpiresAt:     time.Now().Add(ttl),
	})
	require.NoError(t, err)
	return d
}

func TestUpsertDispatchIdempotent(t *testing.T) {
	s := setupStore(t)
	call := seedCall(t, s)

	first := upsertDispatch(t, s, call, "trace-1", "token-a", time.Minute)
	second := upsertDispatch(t, s, call, "trace-1", "token-b", time.Minute)

	// Same (call_id, trace_id) reuses the row with a fresh token.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "token-b", second.JoinToken)
	assert.Equal(t, models.DispatchPending, second.Status)
	assert.Nil(t, second.ClaimedAt)
}

func TestClaimDispatchOneShot(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "secret-token", time.Minute)

	claimed, err := s.ClaimDispatch(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", claimed.JoinToken)
	assert.Equal(t, models.DispatchClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedAt)

	// The stored token is gone after the claim.
	stored, err := s.GetDispatch(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.JoinToken)

	// Second claim loses.
	_, err = s.ClaimDispatch(ctx, d.ID)
	assert.ErrorIs(t, err, store.ErrDispatchUnavailable)
}

func TestClaimDispatchConcurrent(t *testing.T) {
	s := setupStore(t)
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "secret-token", time.Minute)

	const claimants = 8
	results := make([]error, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ClaimDispatch(context.Background(), d.ID)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, store.ErrDispatchUnavailable):
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, claimants-1, losses)
}

func TestClaimDispatchExpiredAndMissing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "token", -time.Second)

	_, err := s.ClaimDispatch(ctx, d.ID)
	assert.ErrorIs(t, err, store.ErrDispatchExpired)

	_, err = s.ClaimDispatch(ctx, uuid.New().String())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpirePendingDispatches(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	stale := upsertDispatch(t, s, call, "trace-stale", "token", -time.Second)
	fresh := upsertDispatch(t, s, call, "trace-fresh", "token", time.Minute)

	n, err := s.ExpirePendingDispatches(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetDispatch(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchExpired, got.Status)
	assert.Empty(t, got.JoinToken)

	got, err = s.GetDispatch(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchPending, got.Status)
}

func TestLaunchJobLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "token", time.Minute)

	job, err := s.UpsertLaunchJob(ctx, store.UpsertLaunchJobInput{
		DispatchID:    d.ID,
		CallID:        call.ID,
		TenantID:      call.TenantID,
		AgentID:       call.AgentID,
		TraceID:       "trace-1",
		Room:          call.Room,
		TwilioCallSID: call.TwilioCallSID,
		LiveKitURL:    "wss://livekit.example.com",
		JoinToken:     "join-token",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LaunchJobPending, job.Status)

	claimed, err := s.ClaimLaunchJobs(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, models.LaunchJobProcessing, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, "join-token", claimed[0].JoinToken)

	// Processing rows are invisible to another poll.
	again, err := s.ClaimLaunchJobs(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.MarkLaunchJobFailed(ctx, job.ID, "connector unreachable"))
	retried, err := s.ClaimLaunchJobs(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 2, retried[0].Attempts)

	require.NoError(t, s.MarkLaunchJobSucceeded(ctx, job.ID))
	final, err := s.GetLaunchJobByDispatch(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LaunchJobSucceeded, final.Status)
	assert.Empty(t, final.JoinToken)
	require.NotNil(t, final.ProcessedAt)
}

func TestClaimLaunchJobsRespectsAttemptCap(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "token", time.Minute)

	job, err := s.UpsertLaunchJob(ctx, store.UpsertLaunchJobInput{
		DispatchID: d.ID, CallID: call.ID, TenantID: call.TenantID,
		AgentID: call.AgentID, TraceID: "trace-1", Room: call.Room,
		TwilioCallSID: call.TwilioCallSID, LiveKitURL: "wss://lk", JoinToken: "tok",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claimed, err := s.ClaimLaunchJobs(ctx, 10, 2)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, s.MarkLaunchJobFailed(ctx, job.ID, "still down"))
	}

	// attempts == cap: the job is dead until re-upserted.
	claimed, err := s.ClaimLaunchJobs(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Re-upserting the dispatch resets the budget.
	_, err = s.UpsertLaunchJob(ctx, store.UpsertLaunchJobInput{
		DispatchID: d.ID, CallID: call.ID, TenantID: call.TenantID,
		AgentID: call.AgentID, TraceID: "trace-1", Room: call.Room,
		TwilioCallSID: call.TwilioCallSID, LiveKitURL: "wss://lk", JoinToken: "tok2",
	})
	require.NoError(t, err)
	claimed, err = s.ClaimLaunchJobs(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "tok2", claimed[0].JoinToken)
}

func TestRequeueStalledLaunchJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)
	d := upsertDispatch(t, s, call, "trace-1", "token", time.Minute)

	job, err := s.UpsertLaunchJob(ctx, store.UpsertLaunchJobInput{
		DispatchID: d.ID, CallID: call.ID, TenantID: call.TenantID,
		AgentID: call.AgentID, TraceID: "trace-1", Room: call.Room,
		TwilioCallSID: call.TwilioCallSID, LiveKitURL: "wss://lk", JoinToken: "tok",
	})
	require.NoError(t, err)
	_, err = s.ClaimLaunchJobs(ctx, 10, 5)
	require.NoError(t, err)

	// Backdate updated_at to simulate a crashed launcher.
	_, err = s.Pool().Exec(ctx,
		`UPDATE runtime_launch_jobs SET updated_at = now() - interval '10 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	n, err := s.RequeueStalledLaunchJobs(ctx, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	claimed, err := s.ClaimLaunchJobs(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)
}
