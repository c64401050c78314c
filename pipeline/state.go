package pipeline

import (
	"encoding/json"
	"fmt"
)

// State is where an item is in its journey through the pipeline.
type State int

const (
	Submitted State = iota
	OCRPending
	OCRDone
	ExtractionPending
	ExtractionDone
	Accepted
	FlaggedLowConfidence
)

var stateNames = [...]string{
	Submitted:            "submitted",
	OCRPending:           "ocr_pending",
	OCRDone:              "ocr_done",
	ExtractionPending:    "extraction_pending",
	ExtractionDone:       "extraction_done",
	Accepted:             "accepted",
	FlaggedLowConfidence: "flagged_low_confidence",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s == Accepted || s == FlaggedLowConfidence
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", name)
}
