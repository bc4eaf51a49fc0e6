package main

import (
	"encoding/binary"

	"github.com/simforge/simforge/internal/core/ecs"
	"github.com/simforge/simforge/internal/core/fixed"
	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/core/schedule"
	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/sim"
)

// The demo world: one steerable avatar per player inside a square arena.
// Inputs are two little-endian int32 axes interpreted as raw fixed-point
// velocity. Hitting the arena edge raises a bounce signal that reflects the
// avatar, and emits an event observers can render.

// arenaHalf is the arena edge distance from the origin, in world units.
const arenaHalf = 512

type player struct {
	ID uint32
}

type position struct {
	X, Y fixed.Fixed
}

type velocity struct {
	X, Y fixed.Fixed
}

const (
	sigBounce  signal.Kind      = "demo.bounce"
	evtBounced signal.EventKind = "demo.bounced"
)

type steerSystem struct {
	filter ecs.Mask
}

func (s *steerSystem) Name() string     { return "steer" }
func (s *steerSystem) Filter() ecs.Mask { return s.filter }

func (s *steerSystem) Update(t *schedule.Tick, e ecs.Entity) error {
	p, err := ecs.Get[player](t.World, e)
	if err != nil {
		return err
	}
	v, err := ecs.Get[velocity](t.World, e)
	if err != nil {
		return err
	}
	in := t.Input(input.PlayerID(p.ID))
	v.X = fixed.Fixed(int32(binary.LittleEndian.Uint32(in[0:4])))
	v.Y = fixed.Fixed(int32(binary.LittleEndian.Uint32(in[4:8])))
	return nil
}

type motionSystem struct {
	filter ecs.Mask
}

func (s *motionSystem) Name() string     { return "motion" }
func (s *motionSystem) Filter() ecs.Mask { return s.filter }

func (s *motionSystem) Update(t *schedule.Tick, e ecs.Entity) error {
	pos, err := ecs.Get[position](t.World, e)
	if err != nil {
		return err
	}
	v, err := ecs.Get[velocity](t.World, e)
	if err != nil {
		return err
	}
	pos.X += v.X
	pos.Y += v.Y
	limit := fixed.FromInt(arenaHalf)
	if pos.X.Abs() > limit || pos.Y.Abs() > limit {
		return t.Raise(sigBounce, signal.Params{"tick": t, "entity": e})
	}
	return nil
}

// buildDemo registers the demo components, systems and signal handlers on an
// unstarted simulation and spawns one avatar per player.
func buildDemo(s *sim.Simulation) error {
	w := s.World()
	ecs.RegisterComponent[player](w)
	posID := ecs.RegisterComponent[position](w)
	velID := ecs.RegisterComponent[velocity](w)
	playerID, _ := ecs.IDOf[player](w)

	s.Signals().Register(sigBounce, func(p signal.Params) error {
		t := p["tick"].(*schedule.Tick)
		e := p["entity"].(ecs.Entity)
		pos, err := ecs.Get[position](t.World, e)
		if err != nil {
			return err
		}
		v, err := ecs.Get[velocity](t.World, e)
		if err != nil {
			return err
		}
		limit := fixed.FromInt(arenaHalf)
		pos.X = fixed.Clamp(pos.X, -limit, limit)
		pos.Y = fixed.Clamp(pos.Y, -limit, limit)
		v.X, v.Y = -v.X, -v.Y
		t.Emit(evtBounced, map[string]any{
			"entity": e.Index,
			"x":      pos.X.Float64(),
			"y":      pos.Y.Float64(),
		})
		return nil
	})

	if err := s.AddSystem(&steerSystem{filter: ecs.NewMask(playerID, velID)}); err != nil {
		return err
	}
	if err := s.AddSystem(&motionSystem{filter: ecs.NewMask(posID, velID)}); err != nil {
		return err
	}

	for i := 0; i < s.Config().PlayerCount; i++ {
		e := w.Create()
		if err := ecs.Add(w, e, player{ID: uint32(i)}); err != nil {
			return err
		}
		if err := ecs.Add(w, e, position{}); err != nil {
			return err
		}
		if err := ecs.Add(w, e, velocity{}); err != nil {
			return err
		}
	}
	return nil
}
