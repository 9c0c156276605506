package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cardshift/backend/internal/pipefy"
)

func TestBuildFieldIndexPrefersStageLabel(t *testing.T) {
	pipes := []pipefy.Pipe{
		{
			ID:   "10",
			Name: "Support",
			Phases: []pipefy.Phase{
				{
					ID: "p1",
					Fields: []pipefy.PhaseField{
						{ID: "f_notes", Label: "Notes"},
						{ID: "f_resp", Label: "Responsible"},
						{ID: "f_stage", Label: "Responsible for the stage"},
					},
				},
				{
					ID: "p2",
					Fields: []pipefy.PhaseField{
						{ID: "f_resp_pt", Label: "Responsável"},
					},
				},
				{ID: "p3"}, // no schema
				{
					ID: "p4",
					Fields: []pipefy.PhaseField{
						{ID: "f_other", Label: "Deadline"},
					},
				},
			},
		},
	}

	index := BuildFieldIndex(pipes)

	assert.Equal(t, "f_stage", index["p1"], "explicit stage label wins over plain responsible")
	assert.Equal(t, "f_resp_pt", index["p2"], "accented labels normalize before matching")
	assert.NotContains(t, index, "p3")
	assert.NotContains(t, index, "p4")
}

func TestBuildFieldIndexPortugueseStageLabel(t *testing.T) {
	pipes := []pipefy.Pipe{
		{
			ID: "10",
			Phases: []pipefy.Phase{
				{
					ID: "p1",
					Fields: []pipefy.PhaseField{
						{ID: "f_any", Label: "Responsável"},
						{ID: "f_etapa", Label: "Responsável pela etapa"},
					},
				},
			},
		},
	}

	assert.Equal(t, "f_etapa", BuildFieldIndex(pipes)["p1"])
}
