package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTable() *CallbackTable {
	return &CallbackTable{
		EmbeddingDim: 768,
		NumLayers:    8,
		VocabSize:    50257,
		Forward:      func(any, WorkerID, int, []byte, []byte) Status { return StatusOK },
		Backward:     func(any, WorkerID, int, []float64, []float64) Status { return StatusOK },
	}
}

func TestValidateAcceptsMinimalTable(t *testing.T) {
	assert.True(t, Validate(validTable()))
}

func TestValidateRejectsNil(t *testing.T) {
	assert.False(t, Validate(nil))
}

func TestValidateRejectsMissingRequiredCallback(t *testing.T) {
	tbl := validTable()
	tbl.Backward = nil
	assert.False(t, Validate(tbl))
}

func TestValidateRejectsZeroDimensions(t *testing.T) {
	tbl := validTable()
	tbl.EmbeddingDim = 0
	assert.False(t, Validate(tbl))
}

func TestValidateIgnoresOptionalCallbacks(t *testing.T) {
	tbl := validTable()
	tbl.GetInput = nil
	tbl.SetOutput = nil
	tbl.Cleanup = nil
	assert.True(t, Validate(tbl))
}
