package transfer

import (
	"strings"

	"cardshift/backend/internal/fieldvalue"
	"cardshift/backend/internal/pipefy"
)

// BuildFieldIndex maps each phase id to the field id representing the
// responsible field in that phase's schema. A label naming the stage
// explicitly ("responsible for the stage" / "responsável pela etapa") wins
// over one that merely mentions "responsible".
//
// The index is the fallback for cards whose own field entry arrives without
// an id: the upstream omits field definitions from a card payload when the
// card has no value for them yet.
func BuildFieldIndex(pipes []pipefy.Pipe) map[string]string {
	index := make(map[string]string)

	for _, pipe := range pipes {
		for _, phase := range pipe.Phases {
			if len(phase.Fields) == 0 {
				continue
			}
			if id := pickResponsibleField(phase.Fields); id != "" {
				index[phase.ID.String()] = id
			}
		}
	}

	return index
}

func pickResponsibleField(fields []pipefy.PhaseField) string {
	var fallback string
	for _, f := range fields {
		label := fieldvalue.Normalize(f.Label)
		for _, l := range stageResponsibleLabels {
			if strings.Contains(label, l) {
				return f.ID
			}
		}
		if fallback == "" {
			for _, l := range responsibleLabels {
				if strings.Contains(label, l) {
					fallback = f.ID
					break
				}
			}
		}
	}
	return fallback
}
