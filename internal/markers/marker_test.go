package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModificationActionString(t *testing.T) {
	cases := []struct {
		action ModificationAction
		want   string
	}{
		{ActionPausing, "PAUSING"},
		{ActionStopping, "STOPPING"},
		{ModificationAction(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.action.String())
	}
}

func TestMarkerTypesImplementTheInterface(t *testing.T) {
	var markersUnderTest = []Marker{
		CheckpointBarrier{},
		CancelCheckpointMarker{},
		StartModificationMarker{},
		StartMigrationMarker{},
		CancelModificationMarker{},
		PausingOperatorMarker{},
	}
	assert.Len(t, markersUnderTest, 6, "every marker variant in this package must satisfy Marker")
}
