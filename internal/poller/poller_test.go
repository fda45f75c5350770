package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/testutil"
	"github.com/ifc-inspector/inspector/internal/transport"
)

func newTestPoller(f StatusFetcher) (*Poller, *testutil.ManualClock) {
	clk := testutil.NewManualClock()
	return New(f, clk, 2*time.Second, nil), clk
}

func TestWatch_RunsUntilDone(t *testing.T) {
	tag := "FT-101"
	fetcher := testutil.NewScriptedFetcher().Script("job-1",
		testutil.FetchStep{Status: &models.StatusResponse{Status: models.JobStatusQueued}},
		testutil.FetchStep{Status: &models.StatusResponse{Status: models.JobStatusRunning}},
		testutil.FetchStep{Status: &models.StatusResponse{
			Status: models.JobStatusDone,
			Result: &models.Report{Instruments: []models.Instrument{{Tag: tag}}},
		}},
	)
	p, clk := newTestPoller(fetcher)
	obs := &testutil.RecordingObserver{}

	w := p.Watch("job-1", obs)
	assert.Equal(t, "job-1", p.ActiveJobID())

	clk.Advance(t, 0, 1)
	assert.Equal(t, 1, fetcher.Calls("job-1"))
	clk.Advance(t, 2*time.Second, 1)
	clk.Advance(t, 2*time.Second, 1)

	require.Len(t, obs.Done, 1)
	assert.Equal(t, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}, obs.Statuses)
	assert.Equal(t, tag, obs.Done[0].Result.Instruments[0].Tag)
	assert.Equal(t, 3, w.Polls())
	assert.Empty(t, p.ActiveJobID())
	assert.NoError(t, w.Err())

	select {
	case <-w.Done():
	default:
		t.Fatal("watch should be done")
	}

	clk.Advance(t, time.Minute, 0)
	assert.True(t, clk.Idle())
	assert.Equal(t, 3, fetcher.Calls("job-1"), "no polls after terminal status")
}

func TestWatch_DoneWithoutResultGivesEmptyReport(t *testing.T) {
	fetcher := testutil.NewScriptedFetcher().Statuses("job-1", models.JobStatusDone)
	p, clk := newTestPoller(fetcher)
	obs := &testutil.RecordingObserver{}

	p.Watch("job-1", obs)
	clk.Advance(t, 0, 1)

	require.Len(t, obs.Done, 1)
	require.NotNil(t, obs.Done[0].Result)
	assert.Empty(t, obs.Done[0].Result.Instruments)
}

func TestWatch_Failed(t *testing.T) {
	tests := []struct {
		name    string
		errText string
		want    string
	}{
		{"server message", "unsupported schema", "unsupported schema"},
		{"fallback message", "", "job failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := testutil.NewScriptedFetcher().Script("job-1",
				testutil.FetchStep{Status: &models.StatusResponse{Status: models.JobStatusFailed, Error: tt.errText}},
			)
			p, clk := newTestPoller(fetcher)
			obs := &testutil.RecordingObserver{}

			w := p.Watch("job-1", obs)
			clk.Advance(t, 0, 1)

			require.Len(t, obs.Failed, 1)
			assert.Equal(t, tt.want, obs.Failed[0].Message)
			assert.Equal(t, models.KindJobFailure, obs.Failed[0].Kind)
			assert.Equal(t, tt.want, w.Job().Error)
			assert.Empty(t, p.ActiveJobID())

			clk.Advance(t, time.Minute, 0)
			assert.True(t, clk.Idle())
		})
	}
}

func TestWatch_UnknownStatusKeepsPolling(t *testing.T) {
	fetcher := testutil.NewScriptedFetcher().Statuses("job-1", "paused", "paused", models.JobStatusDone)
	p, clk := newTestPoller(fetcher)
	obs := &testutil.RecordingObserver{}

	p.Watch("job-1", obs)
	clk.Advance(t, 0, 1)
	clk.Advance(t, 2*time.Second, 1)
	clk.Advance(t, 2*time.Second, 1)

	assert.Equal(t, []models.JobStatus{"paused", "paused"}, obs.Statuses)
	assert.Len(t, obs.Done, 1)
}

func TestWatch_TransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"http status", &transport.StatusError{StatusCode: 404}, "job status error: 404"},
		{"network", errors.New("connection refused"), "polling error: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := testutil.NewScriptedFetcher().Script("job-1",
				testutil.FetchStep{Status: &models.StatusResponse{Status: models.JobStatusRunning}},
				testutil.FetchStep{Err: tt.err},
			)
			p, clk := newTestPoller(fetcher)
			obs := &testutil.RecordingObserver{}

			w := p.Watch("job-1", obs)
			clk.Advance(t, 0, 1)
			clk.Advance(t, 2*time.Second, 1)

			require.Len(t, obs.Errors, 1)
			assert.Equal(t, tt.want, obs.Errors[0].Message)
			assert.Equal(t, models.KindPollingTransport, obs.Errors[0].Kind)
			assert.ErrorIs(t, w.Err(), tt.err)
			assert.Empty(t, p.ActiveJobID())

			clk.Advance(t, time.Minute, 0)
			assert.True(t, clk.Idle())
			assert.Equal(t, 2, fetcher.Calls("job-1"))
		})
	}
}

func TestStop_TimerFiringDuringStopDoesNothing(t *testing.T) {
	fetcher := testutil.NewScriptedFetcher().Statuses("job-1", models.JobStatusRunning)
	p, clk := newTestPoller(fetcher)
	obs := &testutil.RecordingObserver{}

	p.Watch("job-1", obs)
	clk.Advance(t, 0, 1)
	require.Equal(t, 1, obs.Events())

	// the next tick fires but its callback is parked until after Stop
	release := clk.Hold()
	clk.Add(2 * time.Second)
	p.Stop()
	assert.Empty(t, p.ActiveJobID())
	release()
	clk.Wait(t, 1)

	assert.Equal(t, 1, fetcher.Calls("job-1"))
	assert.Equal(t, 1, obs.Events())

	clk.Advance(t, time.Minute, 0)
	assert.True(t, clk.Idle())
}

func TestStop_InFlightResponseIsDropped(t *testing.T) {
	var p *Poller
	fetcher := testutil.NewScriptedFetcher().Script("job-1",
		testutil.FetchStep{
			Status: &models.StatusResponse{Status: models.JobStatusDone, Result: &models.Report{}},
			Before: func() { p.Stop() },
		},
	)
	var clk *testutil.ManualClock
	p, clk = newTestPoller(fetcher)
	obs := &testutil.RecordingObserver{}

	w := p.Watch("job-1", obs)
	clk.Advance(t, 0, 1)

	assert.Equal(t, 1, fetcher.Calls("job-1"))
	assert.Zero(t, obs.Events())
	assert.Equal(t, models.JobStatusQueued, w.Job().Status)
}

func TestWatch_SupersedesPreviousJob(t *testing.T) {
	obsA := &testutil.RecordingObserver{}
	obsB := &testutil.RecordingObserver{}
	entered := make(chan struct{})
	proceed := make(chan struct{})

	fetcher := testutil.NewScriptedFetcher()
	fetcher.Script("job-a",
		testutil.FetchStep{Status: &models.StatusResponse{Status: models.JobStatusRunning}},
		testutil.FetchStep{
			Status: &models.StatusResponse{Status: models.JobStatusDone, Result: &models.Report{}},
			Before: func() {
				close(entered)
				<-proceed
			},
		},
	)
	fetcher.Statuses("job-b", models.JobStatusRunning, models.JobStatusDone)

	p, clk := newTestPoller(fetcher)

	p.Watch("job-a", obsA)
	clk.Advance(t, 0, 1)

	// job-a's "done" is still in flight when job-b starts
	clk.Add(2 * time.Second)
	<-entered
	p.Watch("job-b", obsB)
	close(proceed)
	clk.Wait(t, 1)

	assert.Equal(t, []models.JobStatus{models.JobStatusRunning}, obsA.Statuses)
	assert.Empty(t, obsA.Done)
	assert.Equal(t, "job-b", p.ActiveJobID())

	clk.Advance(t, 0, 1)
	clk.Advance(t, 2*time.Second, 1)
	assert.Len(t, obsB.Done, 1)
	assert.Equal(t, 2, fetcher.Calls("job-a"))
}

func TestWatch_StopOnlyAffectsActive(t *testing.T) {
	fetcher := testutil.NewScriptedFetcher().
		Statuses("job-a", models.JobStatusRunning).
		Statuses("job-b", models.JobStatusRunning)
	p, clk := newTestPoller(fetcher)

	a := p.Watch("job-a", &testutil.RecordingObserver{})
	p.Watch("job-b", &testutil.RecordingObserver{})
	a.Stop()

	assert.Equal(t, "job-b", p.ActiveJobID())
	clk.Advance(t, 0, 1)
	assert.True(t, clk.Idle())
	assert.Zero(t, fetcher.Calls("job-a"))
	assert.Equal(t, 1, fetcher.Calls("job-b"))
}

func TestSetInterval_AppliesOnNextTick(t *testing.T) {
	fetcher := testutil.NewScriptedFetcher().Statuses("job-1", models.JobStatusRunning)
	p, clk := newTestPoller(fetcher)

	p.Watch("job-1", &testutil.RecordingObserver{})
	clk.Advance(t, 0, 1)
	p.SetInterval(5 * time.Second)

	// already scheduled with the old interval
	clk.Advance(t, 2*time.Second, 1)
	assert.Equal(t, 2, fetcher.Calls("job-1"))

	clk.Advance(t, 4*time.Second, 0)
	assert.True(t, clk.Idle())
	assert.Equal(t, 2, fetcher.Calls("job-1"))
	clk.Advance(t, time.Second, 1)
	assert.Equal(t, 3, fetcher.Calls("job-1"))
}

func TestSetInterval_NonPositiveUsesDefault(t *testing.T) {
	p := New(testutil.NewScriptedFetcher(), nil, 0, nil)
	assert.Equal(t, DefaultInterval, p.Interval())

	p.SetInterval(-time.Second)
	assert.Equal(t, DefaultInterval, p.Interval())

	p.SetInterval(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, p.Interval())
}
