package lossless

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceManager_Records(t *testing.T) {
	tm := CreateTraceManager("trace", true)
	require.NoError(t, tm.AddName(1, "sw", "switch"))
	assert.Error(t, tm.AddName(1, "sw2", "switch"))

	tm.traceEvent(1e-6, 1, TracePaused, ControlTrace{Port: 2, Class: 3})
	tm.traceEvent(2e-6, 1, TracePaused, ControlTrace{Port: 2, Class: 4})
	tm.traceEvent(3e-6, 1, TraceResumed, ControlTrace{Port: 2, Class: 3})
	assert.Equal(t, 2, tm.Count(1, TracePaused))
	assert.Equal(t, 1, tm.Count(1, TraceResumed))
	assert.Zero(t, tm.Count(2, TracePaused))

	require.Len(t, tm.Traces[1], 3)
	rec := tm.Traces[1][0]
	assert.Equal(t, "0.000001", rec.TraceTime)
	assert.Equal(t, "control", rec.TraceType)
	assert.Contains(t, rec.TraceStr, "op: paused")
	assert.Contains(t, rec.TraceStr, "class: 3")
}

func TestTraceManager_WriteToFile(t *testing.T) {
	tm := CreateTraceManager("trace", true)
	tm.AddName(1, "nic", "nic")
	tm.traceEvent(5e-6, 1, TraceCNSent, ControlTrace{Flow: 4, Rate: 0.25})

	filename := filepath.Join(t.TempDir(), "trace.json")
	written, err := tm.WriteToFile(filename)
	require.NoError(t, err)
	assert.True(t, written)

	bytes, err := os.ReadFile(filename)
	require.NoError(t, err)
	in := TraceManager{}
	require.NoError(t, json.Unmarshal(bytes, &in))
	assert.Equal(t, "trace", in.ExpName)
	assert.Equal(t, "nic", in.NameByID[1].Name)
	assert.Len(t, in.Traces[1], 1)

	written, err = tm.WriteToFile(filepath.Join(t.TempDir(), "trace.yml"))
	assert.NoError(t, err)
	assert.True(t, written)

	_, err = tm.WriteToFile(filepath.Join(t.TempDir(), "trace.csv"))
	assert.Error(t, err)
}

func TestTraceManager_Inactive(t *testing.T) {
	off := CreateTraceManager("off", false)
	off.traceEvent(1e-6, 1, TraceDrop, ControlTrace{})
	assert.Empty(t, off.Traces)
	written, err := off.WriteToFile("never.json")
	assert.NoError(t, err)
	assert.False(t, written)

	var none *TraceManager
	assert.False(t, none.Active())
	none.traceEvent(1e-6, 1, TraceDrop, ControlTrace{})
	assert.Zero(t, none.Count(1, TraceDrop))
	assert.NoError(t, none.AddName(1, "x", "y"))
}

func TestTraceOp_String(t *testing.T) {
	assert.Equal(t, "pause-sent", TracePauseSent.String())
	assert.Equal(t, "unknown", TraceOp(99).String())
}
