package persistence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecoverField_StripsWrapperPrefix covers the exact S6 scenario string:
// "runs_summary": "ImmutableMutableProxy([...])" must recover to the
// underlying JSON array, not fall through to a zero-value reset.
func TestRecoverField_StripsWrapperPrefix(t *testing.T) {
	raw := json.RawMessage(`"ImmutableMutableProxy([{'name': 'svc-a', 'status': 'success'}])"`)

	recovered, ok := recoverField(raw, true)
	require.True(t, ok)

	var v []map[string]string
	require.NoError(t, json.Unmarshal(recovered, &v))
	require.Len(t, v, 1)
	assert.Equal(t, "svc-a", v[0]["name"])
	assert.Equal(t, "success", v[0]["status"])
}

// TestRecoverField_StripsNestedWrapperPrefix covers a doubly-wrapped value,
// since a prior process's proxy objects can nest one inside another.
func TestRecoverField_StripsNestedWrapperPrefix(t *testing.T) {
	raw := json.RawMessage(`"ImmutableMutableProxy(ImmutableMutableProxy({'svc-a': 'Healthy'}))"`)

	recovered, ok := recoverField(raw, false)
	require.True(t, ok)

	var v map[string]string
	require.NoError(t, json.Unmarshal(recovered, &v))
	assert.Equal(t, "Healthy", v["svc-a"])
}

func TestRecoverField_BareDictReprStillRecovers(t *testing.T) {
	raw := json.RawMessage(`"{'svc-a': 'Healthy', 'svc-b': None}"`)

	recovered, ok := recoverField(raw, false)
	require.True(t, ok)

	var v map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(recovered, &v))
	assert.Equal(t, "null", string(v["svc-b"]))
}

func TestRecoverField_UnrecoverableReturnsFalse(t *testing.T) {
	raw := json.RawMessage(`"totally not json-ish at all {{{"`)

	_, ok := recoverField(raw, false)
	assert.False(t, ok)
}
