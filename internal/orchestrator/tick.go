package orchestrator

import (
	"encoding/json"
	"fmt"
)

// Kind names which pipeline a tick targets.
type Kind string

const (
	KindInvestment  Kind = "investment"
	KindShareRate   Kind = "share-rate"
	KindOraclePrice Kind = "oracle-price"
)

// Phase names which of a pipeline's two tick shapes to run.
type Phase string

const (
	PhaseRecent     Phase = "recent"
	PhaseHistorical Phase = "historical"
)

// Tick is the message published to the queue per spec §4.9: "a cron
// schedule per chain publishes due recent/historical ticks". It names a
// chain and pipeline kind; the worker resolves the actual target list
// (products or price feeds) at consume time, since that list can change
// between publish and consume.
type Tick struct {
	Chain string `json:"chain"`
	Kind  Kind   `json:"kind"`
	Phase Phase  `json:"phase"`
}

func (t Tick) encode() ([]byte, error) {
	return json.Marshal(t)
}

func decodeTick(payload []byte) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(payload, &t); err != nil {
		return Tick{}, fmt.Errorf("orchestrator: decode tick: %w", err)
	}
	return t, nil
}
