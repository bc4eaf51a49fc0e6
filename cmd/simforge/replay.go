package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/sim"
)

// logEntry is one recorded submitInput call, one JSON object per line.
type logEntry struct {
	Player    uint32 `json:"player"`
	Tick      uint64 `json:"tick"`
	Input     string `json:"input"` // base64 of the fixed-size record
	Confirmed bool   `json:"confirmed"`
}

// readLog parses a JSONL input log.
func readLog(path string) ([]logEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var entries []logEntry
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e logEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("input log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// runLog builds a demo simulation, feeds it the recorded inputs and steps it
// through the last tick in the log. It returns the per-tick state hashes.
func runLog(cfg sim.Config, entries []logEntry) ([]uint64, error) {
	s, err := sim.New(cfg, nil)
	if err != nil {
		return nil, err
	}
	if err := buildDemo(s); err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	var lastTick uint64
	for _, e := range entries {
		if e.Tick > lastTick {
			lastTick = e.Tick
		}
		value, err := base64.StdEncoding.DecodeString(e.Input)
		if err != nil {
			return nil, fmt.Errorf("input for player %d tick %d: %w", e.Player, e.Tick, err)
		}
		if err := s.SubmitInput(input.PlayerID(e.Player), e.Tick, value, e.Confirmed); err != nil {
			return nil, err
		}
	}

	hashes := make([]uint64, 0, lastTick)
	for tick := uint64(1); tick <= lastTick; tick++ {
		if err := s.Advance(); err != nil {
			return nil, err
		}
		h, err := s.StateHash()
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
