package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStepStatus(t *testing.T) {
	for _, s := range []string{"pending", "running", "success", "failed", "skipped", "interrupted"} {
		got, err := ParseStepStatus(s)
		require.NoError(t, err)
		assert.Equal(t, StepStatus(s), got)
	}
	_, err := ParseStepStatus("bogus")
	assert.Error(t, err)
}

func TestStepStatusTerminal(t *testing.T) {
	assert.False(t, StepPending.Terminal())
	assert.False(t, StepRunning.Terminal())
	assert.True(t, StepSuccess.Terminal())
	assert.True(t, StepFailed.Terminal())
	assert.True(t, StepSkipped.Terminal())
	assert.True(t, StepInterrupted.Terminal())
}

func TestStepDefinitionsFixedOrder(t *testing.T) {
	require.Len(t, StepDefinitions, 5)
	var ids []StepID
	for _, s := range StepDefinitions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, StepIDs, ids)
}
