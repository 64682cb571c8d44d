package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/agentnet/internal/logging"
	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
	"github.com/alphabot-ai/agentnet/internal/store/sqlite"
)

type recordingPublisher struct {
	mu    sync.Mutex
	items []model.Activity
}

func (p *recordingPublisher) Publish(item model.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
}

type countingPurger struct {
	calls int
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, int64, error) {
	p.calls++
	return 0, 0, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *sqlite.Store, *recordingPublisher, *countingPurger) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:sched_%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	pub := &recordingPublisher{}
	purger := &countingPurger{}
	s := New(st, purger, pub, logging.Discard(), Options{Interval: 10 * time.Millisecond, Batch: 10, Workers: 2})
	return s, st, pub, purger
}

func newAgent(t *testing.T, st *sqlite.Store, name, wallet string) model.Agent {
	t.Helper()
	agent := model.Agent{Name: name, WalletAddress: wallet}
	require.NoError(t, st.CreateAgent(context.Background(), &agent))
	return agent
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)

	next, err := NextRun("@every 10m", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(10*time.Minute), next)

	next, err = NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = NextRun("every now and then", from)
	assert.Error(t, err)
}

func TestTickRunsDueTasksOnce(t *testing.T) {
	s, st, _, purger := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "beat", "0x0000000000000000000000000000000000000001")
	now := time.Now()

	due := model.AgentTask{AgentID: agent.ID, Kind: model.TaskHeartbeat, Schedule: "@every 1h", Enabled: true, NextRunAt: now.Add(-time.Second)}
	disabled := model.AgentTask{AgentID: agent.ID, Kind: model.TaskHeartbeat, Schedule: "@every 1h", Enabled: false, NextRunAt: now.Add(-time.Second)}
	require.NoError(t, st.CreateTask(ctx, &due))
	require.NoError(t, st.CreateTask(ctx, &disabled))

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, purger.calls)

	got, err := st.GetTask(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Empty(t, got.LastError)
	assert.True(t, got.NextRunAt.After(now.Add(59*time.Minute)), "next run should advance by the schedule")

	reloaded, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastSeenAt)

	untouched, err := st.GetTask(ctx, disabled.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, untouched.RunCount)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "task must not run again before its next slot")
}

func TestPostThreadTaskCreatesThread(t *testing.T) {
	s, st, pub, _ := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "poster", "0x0000000000000000000000000000000000000002")

	payload, _ := json.Marshal(model.PostThreadPayload{Title: "Daily digest", Body: "nothing new", Tags: []string{"digest"}})
	task := model.AgentTask{AgentID: agent.ID, Kind: model.TaskPostThread, Schedule: "@daily", Payload: payload, Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &task))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	threads, err := st.ListThreads(ctx, store.ThreadListOpts{AgentID: agent.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "Daily digest", threads[0].Title)
	assert.Equal(t, []string{"digest"}, threads[0].Tags)

	require.Len(t, pub.items, 1)
	assert.Equal(t, model.ActivityThread, pub.items[0].Kind)
	assert.Equal(t, threads[0].ID, pub.items[0].ThreadID)
}

func TestPostThreadTaskNormalizesTags(t *testing.T) {
	s, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "tagger", "0x0000000000000000000000000000000000000004")

	payload, _ := json.Marshal(model.PostThreadPayload{Title: "Tagged", Tags: []string{"Digest", " digest ", "AI", ""}})
	task := model.AgentTask{AgentID: agent.ID, Kind: model.TaskPostThread, Schedule: "@daily", Payload: payload, Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &task))

	tooMany, _ := json.Marshal(model.PostThreadPayload{Title: "Overtagged", Tags: []string{"a", "b", "c", "d", "e", "f"}})
	over := model.AgentTask{AgentID: agent.ID, Kind: model.TaskPostThread, Schedule: "@daily", Payload: tooMany, Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &over))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	threads, err := st.ListThreads(ctx, store.ThreadListOpts{AgentID: agent.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, []string{"digest", "ai"}, threads[0].Tags)

	got, err := st.GetTask(ctx, over.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "at most 5 tags")
}

func TestFailedTaskRecordsError(t *testing.T) {
	s, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "broken", "0x0000000000000000000000000000000000000003")

	task := model.AgentTask{AgentID: agent.ID, Kind: model.TaskPostThread, Schedule: "@every 5m", Payload: json.RawMessage(`{"body":"no title"}`), Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &task))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Contains(t, got.LastError, "title")
	assert.True(t, got.NextRunAt.After(time.Now()))
}

func TestPausedAgentIsSkipped(t *testing.T) {
	s, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "sleepy", "0x0000000000000000000000000000000000000004")
	agent.Status = model.AgentPaused
	require.NoError(t, st.UpdateAgent(ctx, &agent))

	task := model.AgentTask{AgentID: agent.ID, Kind: model.TaskHeartbeat, Schedule: "@every 1m", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &task))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RunCount)
	assert.True(t, got.NextRunAt.After(time.Now()))

	reloaded, _ := st.GetAgent(ctx, agent.ID)
	assert.Nil(t, reloaded.LastSeenAt)
}

func TestInvalidScheduleDisablesTask(t *testing.T) {
	s, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	agent := newAgent(t, st, "odd", "0x0000000000000000000000000000000000000005")

	task := model.AgentTask{AgentID: agent.ID, Kind: model.TaskHeartbeat, Schedule: "whenever", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateTask(ctx, &task))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _, purger := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, purger.calls, 1)
}
