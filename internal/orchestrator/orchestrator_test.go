package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
)

func targets(labels ...string) []Target {
	out := make([]Target, len(labels))
	for i, l := range labels {
		out[i] = Target{Label: l}
	}
	return out
}

func TestAssign_RoundRobin(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 8).Draw(t, "sessions")
		n := rapid.IntRange(0, 50).Draw(t, "missions")
		labels := make([]string, k)
		for i := range labels {
			labels[i] = fmt.Sprintf("s%d", i)
		}
		missions := make([]string, n)
		for i := range missions {
			missions[i] = fmt.Sprintf("m%d", i)
		}

		got := Assign(targets(labels...), missions)
		if len(got) != n {
			t.Fatalf("got %d assignments, want %d", len(got), n)
		}
		perSession := make([]int, k)
		for i, a := range got {
			if a.Index != i || a.Mission != missions[i] {
				t.Fatalf("assignment %d = %+v", i, a)
			}
			if a.Session != i%k || a.Label != labels[i%k] {
				t.Fatalf("mission %d went to session %d, want %d", i, a.Session, i%k)
			}
			perSession[a.Session]++
		}
		for _, c := range perSession {
			if c < n/k || c > n/k+1 {
				t.Fatalf("unbalanced load %v", perSession)
			}
		}
	})
}

func TestAssign_NoTargets(t *testing.T) {
	assert.Nil(t, Assign(nil, []string{"a"}))
}

// fakeAgent runs missions through a function.
type fakeAgent struct {
	label string
	run   func(label string, req agent.RunRequest) (*agent.RunResult, error)
}

func (f *fakeAgent) Run(_ context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	return f.run(f.label, req)
}

func (f *fakeAgent) Model() string { return "fake" }

func factory(run func(label string, req agent.RunRequest) (*agent.RunResult, error)) AgentFactory {
	return func(t Target) agent.Agent { return &fakeAgent{label: t.Label, run: run} }
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func done(req agent.RunRequest) *agent.RunResult {
	return &agent.RunResult{Label: req.Label, Mission: req.Mission, Status: agent.StatusDone}
}

func TestRunAll_FailureIsolated(t *testing.T) {
	run := func(label string, req agent.RunRequest) (*agent.RunResult, error) {
		if req.Mission == "m0" {
			return &agent.RunResult{Status: agent.StatusMaxTurns}, agent.ErrMaxTurnsExceeded
		}
		return done(req), nil
	}
	o := New(factory(run), 5, quiet())

	report, err := o.RunAll(context.Background(), targets("s0", "s1"), []string{"m0", "m1", "m2"})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{"s0", "s1", "s0"}, []string{report.Outcomes[0].Label, report.Outcomes[1].Label, report.Outcomes[2].Label})
	assert.ErrorIs(t, report.Outcomes[0].Err, agent.ErrMaxTurnsExceeded)
	assert.NoError(t, report.Outcomes[1].Err)
	assert.NoError(t, report.Outcomes[2].Err)
	assert.Equal(t, 2, report.Fulfilled)
	assert.Equal(t, 1, report.Rejected)
}

func TestRunAll_SerializesPerSession(t *testing.T) {
	var mu sync.Mutex
	order := map[string][]string{}
	busy := map[string]bool{}
	var active, maxActive atomic.Int32

	run := func(label string, req agent.RunRequest) (*agent.RunResult, error) {
		mu.Lock()
		if busy[label] {
			mu.Unlock()
			return nil, errors.New("session used concurrently")
		}
		busy[label] = true
		order[label] = append(order[label], req.Mission)
		mu.Unlock()

		cur := active.Add(1)
		for {
			old := maxActive.Load()
			if cur <= old || maxActive.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)

		mu.Lock()
		busy[label] = false
		mu.Unlock()
		return done(req), nil
	}

	o := New(factory(run), 5, quiet())
	missions := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6"}
	report, err := o.RunAll(context.Background(), targets("s0", "s1", "s2"), missions)
	require.NoError(t, err)

	assert.Equal(t, 7, report.Fulfilled)
	assert.Equal(t, []string{"m0", "m3", "m6"}, order["s0"])
	assert.Equal(t, []string{"m1", "m4"}, order["s1"])
	assert.Equal(t, []string{"m2", "m5"}, order["s2"])
	assert.GreaterOrEqual(t, maxActive.Load(), int32(2), "sessions should run in parallel")
	assert.LessOrEqual(t, maxActive.Load(), int32(3))
}

func TestRunAll_PanicIsRejected(t *testing.T) {
	run := func(label string, req agent.RunRequest) (*agent.RunResult, error) {
		if req.Mission == "boom" {
			panic("lost the page")
		}
		return done(req), nil
	}
	var settled atomic.Int32
	o := New(factory(run), 5, quiet(), WithOnSettled(func(Outcome) { settled.Add(1) }))

	report, err := o.RunAll(context.Background(), targets("s0"), []string{"boom", "after"})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Outcomes[0].Err, ErrTaskPanicked)
	assert.NoError(t, report.Outcomes[1].Err)
	assert.Equal(t, 1, report.Fulfilled)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, int32(2), settled.Load())
}

func TestRunAll_PassesTurnBudget(t *testing.T) {
	var got atomic.Int32
	run := func(label string, req agent.RunRequest) (*agent.RunResult, error) {
		got.Store(int32(req.MaxTurns))
		assert.Equal(t, label, req.Label)
		return done(req), nil
	}
	_, err := New(factory(run), 30, quiet()).RunAll(context.Background(), targets("s0"), []string{"m"})
	require.NoError(t, err)
	assert.Equal(t, int32(30), got.Load())
}

func TestRunAll_NoSessions(t *testing.T) {
	o := New(factory(nil), 5, quiet())
	_, err := o.RunAll(context.Background(), nil, []string{"m"})
	assert.ErrorIs(t, err, ErrNoSessions)

	report, err := o.RunAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
}

func TestSessionQueue_FIFO(t *testing.T) {
	release := make(chan struct{})
	var ran []int
	var mu sync.Mutex
	sq := newSessionQueue("s0", func(_ context.Context, a Assignment) (*agent.RunResult, error) {
		if a.Index == 0 {
			<-release
		}
		mu.Lock()
		ran = append(ran, a.Index)
		mu.Unlock()
		return nil, nil
	})

	ctx := context.Background()
	first := sq.enqueue(ctx, Assignment{Index: 0})
	second := sq.enqueue(ctx, Assignment{Index: 1})

	select {
	case <-second:
		t.Fatal("second task settled while the first held the session")
	case <-time.After(20 * time.Millisecond):
	}
	mu.Lock()
	assert.Empty(t, ran)
	mu.Unlock()

	close(release)
	<-first
	<-second
	assert.Equal(t, []int{0, 1}, ran)
}
