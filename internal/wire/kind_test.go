package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/topology"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	modID := topology.ModificationID(42)
	attempt := topology.NewID()

	cases := []struct {
		name string
		kind Kind
		msg  any
		out  any
	}{
		{"acknowledge", KindAcknowledge, Acknowledge{Envelope: Envelope{ModID: modID, Attempt: attempt}}, &Acknowledge{}},
		{"decline", KindDecline, Decline{Envelope: Envelope{ModID: modID}, Reason: "slot busy"}, &Decline{}},
		{"ignore", KindIgnore, Ignore{Envelope: Envelope{ModID: modID}}, &Ignore{}},
		{"state_migration", KindStateMigration, StateMigration{Envelope: Envelope{Attempt: attempt}, SubtaskStateBlob: []byte{1, 2, 3}}, &StateMigration{}},
		{"register_task_manager", KindRegisterTaskManager, RegisterTaskManager{TaskManagerID: "tm-1", Host: "localhost", GRPCPort: 9000, SlotCapacity: 4}, &RegisterTaskManager{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Wrap(tc.kind, tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, f.Kind)

			err = f.Unwrap(tc.out)
			require.NoError(t, err)
		})
	}
}

func TestUnwrapSurfacesErrorOnMismatchedPayload(t *testing.T) {
	f, err := Wrap(KindAcknowledge, Acknowledge{Envelope: Envelope{ModID: 7}})
	require.NoError(t, err)

	// Corrupt the payload so Unmarshal fails instead of silently succeeding.
	f.Payload = []byte("not json")

	var out Acknowledge
	err = f.Unwrap(&out)
	assert.Error(t, err)
}

func TestRegisterTaskManagerCarriesSlotCapacity(t *testing.T) {
	f, err := Wrap(KindRegisterTaskManager, RegisterTaskManager{
		TaskManagerID: "tm-9", Host: "10.0.0.1", GRPCPort: 7070, SlotCapacity: 3,
	})
	require.NoError(t, err)

	var reg RegisterTaskManager
	require.NoError(t, f.Unwrap(&reg))
	assert.Equal(t, 3, reg.SlotCapacity)
	assert.Equal(t, "tm-9", reg.TaskManagerID)
}
