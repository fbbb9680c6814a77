package domain

import (
	"encoding/json"
	"fmt"
)

// Action types a JSON-format work submission may carry. Coordinates are
// percentages of the target surface (0-100).
const (
	ActionClick       = "click"
	ActionDoubleClick = "doubleClick"
	ActionMoveMouse   = "moveMouse"
	ActionDrag        = "drag"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Action is one step in a work submission's action list. Click-style actions
// use X/Y directly; drag uses Start/End.
type Action struct {
	Type  string  `json:"type"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	Start *Point  `json:"start,omitempty"`
	End   *Point  `json:"end,omitempty"`
}

type actionList struct {
	Actions []Action `json:"actions"`
}

// ParseActions decodes a work event's JSON content into its action list and
// validates each step.
func ParseActions(content string) ([]Action, error) {
	var list actionList
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	for i, a := range list.Actions {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return list.Actions, nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionClick, ActionDoubleClick, ActionMoveMouse:
		if err := checkPercent(a.X, a.Y); err != nil {
			return err
		}
	case ActionDrag:
		if a.Start == nil || a.End == nil {
			return fmt.Errorf("drag requires start and end")
		}
		if err := checkPercent(a.Start.X, a.Start.Y); err != nil {
			return err
		}
		if err := checkPercent(a.End.X, a.End.Y); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func checkPercent(x, y float64) error {
	if x < 0 || x > 100 || y < 0 || y > 100 {
		return fmt.Errorf("coordinates out of range: (%v, %v)", x, y)
	}
	return nil
}
