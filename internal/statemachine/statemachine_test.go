package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		attempt Status
		wantErr bool
	}{
		{
			name:    "connect then idle",
			path:    []Status{StatusConnected},
			attempt: StatusIdle,
			wantErr: false,
		},
		{
			name:    "idle to recording",
			path:    []Status{StatusConnected, StatusIdle},
			attempt: StatusRecording,
			wantErr: false,
		},
		{
			name:    "recording to saving",
			path:    []Status{StatusConnected, StatusIdle, StatusRecording},
			attempt: StatusSaving,
			wantErr: false,
		},
		{
			name:    "not connected cannot record",
			path:    nil,
			attempt: StatusRecording,
			wantErr: true,
		},
		{
			name:    "recording cannot start again",
			path:    []Status{StatusConnected, StatusIdle, StatusRecording},
			attempt: StatusRecording,
			wantErr: true,
		},
		{
			name:    "saving cannot record",
			path:    []Status{StatusConnected, StatusIdle, StatusSaving},
			attempt: StatusRecording,
			wantErr: true,
		},
		{
			name:    "any state may terminate",
			path:    []Status{StatusConnected, StatusIdle, StatusRecording},
			attempt: StatusTerminated,
			wantErr: false,
		},
		{
			name:    "terminated is final",
			path:    []Status{StatusTerminated},
			attempt: StatusIdle,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			for _, s := range tt.path {
				require.NoError(t, m.Transition(s), "setup transition to %s", s)
			}
			before := m.Status()

			err := m.Transition(tt.attempt)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *ErrInvalidState
				require.True(t, errors.As(err, &invalid))
				assert.Equal(t, before, m.Status(), "rejected transition must leave status unchanged")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.attempt, m.Status())
			}
		})
	}
}

func TestNewStartsNotConnected(t *testing.T) {
	m := New()
	assert.Equal(t, StatusNotConnected, m.Status())
	assert.True(t, m.Is(StatusNotConnected))
}

type testPending string

func (p testPending) PendingKind() string { return string(p) }

func TestPendingQueueFIFO(t *testing.T) {
	m := New()

	m.Enqueue(testPending("first"))
	m.Enqueue(testPending("second"))
	m.Enqueue(testPending("third"))
	assert.Equal(t, 3, m.PendingLen())

	ops := m.DrainPending()
	require.Len(t, ops, 3)
	assert.Equal(t, "first", ops[0].PendingKind())
	assert.Equal(t, "second", ops[1].PendingKind())
	assert.Equal(t, "third", ops[2].PendingKind())

	assert.Equal(t, 0, m.PendingLen())
	assert.Empty(t, m.DrainPending(), "second drain must be empty")
}
