package embed

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// CustomActionPosition is where a custom action appears.
type CustomActionPosition string

const (
	PositionPrimary     CustomActionPosition = "PRIMARY"
	PositionMenu        CustomActionPosition = "MENU"
	PositionContextMenu CustomActionPosition = "CONTEXTMENU"
)

// CustomActionTarget is the object type a custom action applies to.
type CustomActionTarget string

const (
	TargetLiveboard CustomActionTarget = "LIVEBOARD"
	TargetViz       CustomActionTarget = "VIZ"
	TargetAnswer    CustomActionTarget = "ANSWER"
	TargetSpotter   CustomActionTarget = "SPOTTER"
)

// CustomAction is a host-defined action shown inside the embedded app.
type CustomAction struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Position     CustomActionPosition `json:"position"`
	Target       CustomActionTarget   `json:"target"`
	MetadataIDs  map[string][]string  `json:"metadataIds,omitempty"`
	DataModelIDs map[string][]string  `json:"dataModelIds,omitempty"`
	OrgIDs       []string             `json:"orgIds,omitempty"`
	GroupIDs     []string             `json:"groupIds,omitempty"`
}

var allowedPositions = map[CustomActionTarget][]CustomActionPosition{
	TargetLiveboard: {PositionPrimary, PositionMenu},
	TargetViz:       {PositionPrimary, PositionMenu, PositionContextMenu},
	TargetAnswer:    {PositionPrimary, PositionMenu, PositionContextMenu},
	TargetSpotter:   {PositionMenu, PositionContextMenu},
}

func knownPosition(p CustomActionPosition) bool {
	switch p {
	case PositionPrimary, PositionMenu, PositionContextMenu:
		return true
	}
	return false
}

func validateCustomAction(a CustomAction) error {
	var problems []string
	if strings.TrimSpace(a.ID) == "" {
		problems = append(problems, "missing id")
	}
	if strings.TrimSpace(a.Name) == "" {
		problems = append(problems, "missing name")
	}
	if !knownPosition(a.Position) {
		problems = append(problems, fmt.Sprintf("unknown position %q", a.Position))
	}
	positions, ok := allowedPositions[a.Target]
	if !ok {
		problems = append(problems, fmt.Sprintf("unknown target %q", a.Target))
	} else if knownPosition(a.Position) {
		allowed := false
		for _, p := range positions {
			if p == a.Position {
				allowed = true
				break
			}
		}
		if !allowed {
			problems = append(problems, fmt.Sprintf("position %s is not allowed for target %s", a.Position, a.Target))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("custom action %q: %s", a.ID, strings.Join(problems, "; "))
	}
	return nil
}

// ValidCustomActions drops invalid and duplicate actions, logging each, and
// returns the rest sorted by name.
func ValidCustomActions(actions []CustomAction) []CustomAction {
	seen := make(map[string]bool, len(actions))
	out := make([]CustomAction, 0, len(actions))
	for _, a := range actions {
		if err := validateCustomAction(a); err != nil {
			slog.Warn("Dropping invalid custom action", "error", err)
			continue
		}
		if seen[a.ID] {
			slog.Warn("Dropping duplicate custom action", "id", a.ID)
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
