package sim_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/simforge/internal/core/ecs"
	"github.com/simforge/simforge/internal/core/fixed"
	"github.com/simforge/simforge/internal/core/frame"
	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/core/schedule"
	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/sim"
)

type tally struct {
	Owner uint32
	Total fixed.Fixed
}

// gatherSystem adds each player's 4-byte input, read as int32, to that
// player's tally.
type gatherSystem struct {
	filter ecs.Mask
}

func (g *gatherSystem) Name() string     { return "gather" }
func (g *gatherSystem) Filter() ecs.Mask { return g.filter }
func (g *gatherSystem) Update(t *schedule.Tick, e ecs.Entity) error {
	ta, err := ecs.Get[tally](t.World, e)
	if err != nil {
		return err
	}
	in := t.Input(input.PlayerID(ta.Owner))
	ta.Total += fixed.FromInt(int64(int32(binary.LittleEndian.Uint32(in))))
	return nil
}

func testConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.InputSize = 4
	cfg.RollbackWindowDepth = 32
	cfg.SystemExecutionOrder = []string{"gather"}
	return cfg
}

// newInstance builds a started instance with one tally entity per player.
func newInstance(t *testing.T, cfg sim.Config) *sim.Simulation {
	t.Helper()
	s, err := sim.New(cfg, nil)
	require.NoError(t, err)
	tid := ecs.RegisterComponent[tally](s.World())
	for i := 0; i < cfg.PlayerCount; i++ {
		e := s.World().Create()
		require.NoError(t, ecs.Add(s.World(), e, tally{Owner: uint32(i)}))
	}
	require.NoError(t, s.AddSystem(&gatherSystem{filter: ecs.NewMask(tid)}))
	require.NoError(t, s.Start())
	return s
}

func record(v int32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(v))
	return out
}

func TestIdenticalInputLogsProduceIdenticalHashes(t *testing.T) {
	cfg := testConfig()
	cfg.RollbackWindowDepth = 110
	a := newInstance(t, cfg)
	b := newInstance(t, cfg)

	for tick := uint64(1); tick <= 100; tick++ {
		for p := 0; p < cfg.PlayerCount; p++ {
			v := record(int32(tick)*7 + int32(p)*3)
			require.NoError(t, a.SubmitInput(input.PlayerID(p), tick, v, true))
			require.NoError(t, b.SubmitInput(input.PlayerID(p), tick, v, true))
		}
		require.NoError(t, a.Advance())
		require.NoError(t, b.Advance())

		ha, err := a.StateHash()
		require.NoError(t, err)
		hb, err := b.StateHash()
		require.NoError(t, err)
		assert.Equal(t, ha, hb, "tick %d", tick)
	}
	assert.Equal(t, uint64(100), a.CurrentTick())
}

func TestMispredictionRollsBackToCorrectedTimeline(t *testing.T) {
	cfg := testConfig()
	a := newInstance(t, cfg)
	b := newInstance(t, cfg)

	// both instances predict 1 for every tick of every player up front so
	// their prediction streams are identical by construction
	for tick := uint64(1); tick <= 16; tick++ {
		for p := 0; p < cfg.PlayerCount; p++ {
			require.NoError(t, a.SubmitInput(input.PlayerID(p), tick, record(1), false))
			require.NoError(t, b.SubmitInput(input.PlayerID(p), tick, record(1), false))
		}
	}
	// b knows the truth about tick 10 before it ever simulates it
	require.NoError(t, b.SubmitInput(0, 10, record(9), true))

	for tick := uint64(1); tick <= 15; tick++ {
		require.NoError(t, a.Advance())
		require.NoError(t, b.Advance())
	}
	ha, err := a.StateHash()
	require.NoError(t, err)
	hb, err := b.StateHash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb, "a simulated the misprediction")

	// the late confirmation contradicts a's consumed prediction; the next
	// advance replays ticks 10..15 and then computes 16
	require.NoError(t, a.SubmitInput(0, 10, record(9), true))
	require.NoError(t, a.Advance())
	require.NoError(t, b.Advance())
	require.Equal(t, uint64(16), a.CurrentTick())

	for tick := uint64(10); tick <= 16; tick++ {
		ha, err := a.StateHash(tick)
		require.NoError(t, err)
		hb, err := b.StateHash(tick)
		require.NoError(t, err)
		assert.Equal(t, hb, ha, "tick %d", tick)
	}
}

func TestMatchingConfirmationDoesNotRollBack(t *testing.T) {
	cfg := testConfig()
	s := newInstance(t, cfg)

	for tick := uint64(1); tick <= 5; tick++ {
		for p := 0; p < cfg.PlayerCount; p++ {
			require.NoError(t, s.SubmitInput(input.PlayerID(p), tick, record(2), false))
		}
		require.NoError(t, s.Advance())
	}
	before, err := s.StateHash(3)
	require.NoError(t, err)

	// confirmation equal to the prediction: no correction needed
	require.NoError(t, s.SubmitInput(0, 3, record(2), true))
	require.NoError(t, s.Advance())

	after, err := s.StateHash(3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConfirmationBehindWindowHaltsInstance(t *testing.T) {
	cfg := testConfig()
	cfg.RollbackWindowDepth = 4
	s := newInstance(t, cfg)

	for tick := uint64(1); tick <= 10; tick++ {
		require.NoError(t, s.Advance())
	}
	err := s.SubmitInput(0, 2, record(5), true)
	require.ErrorIs(t, err, sim.ErrHalted)
	assert.True(t, s.Halted())

	assert.ErrorIs(t, s.Advance(), sim.ErrHalted)
	assert.ErrorIs(t, s.SubmitInput(0, 11, record(1), true), sim.ErrHalted)
}

// loopSystem raises a self-re-raising signal while armed.
type loopSystem struct {
	bus   *signal.Bus
	armed bool
}

func (l *loopSystem) Name() string     { return "loop" }
func (l *loopSystem) Filter() ecs.Mask { return ecs.Mask{} }
func (l *loopSystem) Update(t *schedule.Tick, _ ecs.Entity) error {
	if !l.armed {
		return nil
	}
	return t.Raise("echo", nil)
}

func TestSignalRecursionAbortsOnlyTheTick(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSignalRecursionDepth = 3
	cfg.SystemExecutionOrder = []string{"loop"}

	s, err := sim.New(cfg, nil)
	require.NoError(t, err)
	loop := &loopSystem{bus: s.Signals()}
	s.Signals().Register("echo", func(signal.Params) error {
		return loop.bus.Raise("echo", nil)
	})
	require.NoError(t, s.AddSystem(loop))
	require.NoError(t, s.Start())

	for tick := uint64(1); tick <= 4; tick++ {
		require.NoError(t, s.Advance())
	}

	loop.armed = true
	err = s.Advance()
	require.ErrorIs(t, err, signal.ErrRecursionLimit)
	assert.Equal(t, uint64(4), s.CurrentTick(), "the aborted tick was discarded")
	assert.False(t, s.Halted())

	// the instance keeps stepping once the cycle is gone
	loop.armed = false
	require.NoError(t, s.Advance())
	assert.Equal(t, uint64(5), s.CurrentTick())
}

// emitterSystem emits one event per tick and, while armed, trips the signal
// recursion limit so the tick aborts after the emit.
type emitterSystem struct {
	armed bool
}

func (s *emitterSystem) Name() string     { return "emitter" }
func (s *emitterSystem) Filter() ecs.Mask { return ecs.Mask{} }
func (s *emitterSystem) Update(t *schedule.Tick, _ ecs.Entity) error {
	if s.armed {
		t.Emit("step", "doomed")
		return t.Raise("echo", nil)
	}
	t.Emit("step", "clean")
	return nil
}

func TestAbortedTickEventsAreDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSignalRecursionDepth = 3
	cfg.SystemExecutionOrder = []string{"emitter"}

	s, err := sim.New(cfg, nil)
	require.NoError(t, err)
	bus := s.Signals()
	bus.Register("echo", func(signal.Params) error {
		return bus.Raise("echo", nil)
	})
	emitter := &emitterSystem{}
	require.NoError(t, s.AddSystem(emitter))
	require.NoError(t, s.Start())

	var seen []signal.Event
	s.SubscribeEvents(func(ev signal.Event) { seen = append(seen, ev) })

	require.NoError(t, s.Advance())

	emitter.armed = true
	require.Error(t, s.Advance())
	emitter.armed = false
	require.NoError(t, s.Advance())

	// only the completed ticks delivered; nothing from the aborted run
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].Tick)
	assert.Equal(t, "clean", seen[0].Payload)
	assert.Equal(t, uint64(2), seen[1].Tick)
	assert.Equal(t, "clean", seen[1].Payload)
}

func TestStalePredictionRejected(t *testing.T) {
	cfg := testConfig()
	a := newInstance(t, cfg)
	for tick := uint64(1); tick <= 5; tick++ {
		require.NoError(t, a.Advance())
	}

	// a prediction cannot rewrite a consumed tick
	err := a.SubmitInput(0, 2, record(77), false)
	require.ErrorIs(t, err, sim.ErrStalePrediction)
	err = a.SubmitInput(0, 5, record(77), false)
	require.ErrorIs(t, err, sim.ErrStalePrediction)

	// the confirmation still contradicts the zero prediction the ticks
	// consumed, so the rollback fires and the timelines converge
	require.NoError(t, a.SubmitInput(0, 2, record(77), true))
	require.NoError(t, a.SubmitInput(0, 6, record(0), false))
	require.NoError(t, a.Advance())

	b := newInstance(t, cfg)
	require.NoError(t, b.SubmitInput(0, 2, record(77), true))
	for tick := uint64(1); tick <= 6; tick++ {
		require.NoError(t, b.SubmitInput(0, tick, record(0), false))
	}
	for tick := uint64(1); tick <= 6; tick++ {
		require.NoError(t, b.Advance())
	}

	for tick := uint64(2); tick <= 6; tick++ {
		ha, err := a.StateHash(tick)
		require.NoError(t, err)
		hb, err := b.StateHash(tick)
		require.NoError(t, err)
		assert.Equal(t, hb, ha, "tick %d", tick)
	}
}

func TestSubmitInputValidation(t *testing.T) {
	cfg := testConfig()
	s := newInstance(t, cfg)

	err := s.SubmitInput(0, 1, []byte{1, 2}, false)
	assert.ErrorIs(t, err, input.ErrInvalidInput)

	err = s.SubmitInput(input.PlayerID(cfg.PlayerCount), 1, record(1), true)
	assert.ErrorIs(t, err, input.ErrInvalidInput)

	_, err = s.StateHash(99)
	assert.Error(t, err)
}

func TestSnapshotExportRoundTrip(t *testing.T) {
	cfg := testConfig()
	s := newInstance(t, cfg)
	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, s.SubmitInput(0, tick, record(int32(tick)), true))
		require.NoError(t, s.Advance())
	}

	data, err := s.Frame()
	require.NoError(t, err)
	f, err := frame.Decode(s.Schema(), data)
	require.NoError(t, err)

	want, err := s.StateHash()
	require.NoError(t, err)
	assert.Equal(t, want, f.Hash())
	assert.Equal(t, uint64(3), f.Tick())
}

func TestHistoricalHashesResolveWithinWindowOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RollbackWindowDepth = 4
	s := newInstance(t, cfg)
	for tick := uint64(1); tick <= 10; tick++ {
		require.NoError(t, s.Advance())
	}

	_, err := s.StateHash(7)
	assert.NoError(t, err)
	_, err = s.StateHash(2)
	assert.ErrorIs(t, err, sim.ErrNotRetained)
}

func TestLifecycleErrors(t *testing.T) {
	cfg := testConfig()
	s, err := sim.New(cfg, nil)
	require.NoError(t, err)
	ecs.RegisterComponent[tally](s.World())

	assert.ErrorIs(t, s.Advance(), sim.ErrNotStarted)
	_, err = s.StateHash()
	assert.ErrorIs(t, err, sim.ErrNotStarted)

	// the configured order names a system that was never added
	s2, err := sim.New(testConfig(), nil)
	require.NoError(t, err)
	assert.Error(t, s2.Start())

	require.NoError(t, s.AddSystem(&gatherSystem{}))
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), sim.ErrAlreadyStarted)
	assert.ErrorIs(t, s.AddSystem(&gatherSystem{}), sim.ErrAlreadyStarted)
}

func TestConfigValidation(t *testing.T) {
	cfg := sim.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.RollbackWindowDepth = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.PlayerCount = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.InputSize = -1
	assert.Error(t, bad.Validate())
}
