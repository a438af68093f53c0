package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/config"
	"github.com/artemis/flowmod/internal/coordinator"
	"github.com/artemis/flowmod/internal/observability"
	"github.com/artemis/flowmod/internal/topology"
)

// fakeGateway is a no-op TaskManagerGateway used only to let the trigger
// engine complete its broadcasts without a real task manager connection.
type fakeGateway struct{}

func (fakeGateway) ResumeTask(ctx context.Context, attempt topology.ExecutionAttemptID, timeout time.Duration, stateBlob []byte) error {
	return nil
}
func (fakeGateway) TriggerMigration(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, spillMap map[topology.ExecutionAttemptID]map[int]struct{}, stopMap map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor, upcomingCheckpointID int64) error {
	return nil
}
func (fakeGateway) TriggerModification(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, acks map[topology.ExecutionAttemptID]struct{}, subtasksToPause map[int]struct{}, action int) error {
	return nil
}
func (fakeGateway) TriggerResumeWithDifferentInputs(ctx context.Context, attempt topology.ExecutionAttemptID, inputs []topology.InputChannelDescriptor) error {
	return nil
}
func (fakeGateway) TriggerResumeWithNewInput(ctx context.Context, attempt topology.ExecutionAttemptID, index int, input topology.InputChannelDescriptor) error {
	return nil
}
func (fakeGateway) ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt topology.ExecutionAttemptID, newPartitionIndex int, tmLocation topology.TaskManagerLocation, connectionIdx int) error {
	return nil
}

// fakeSlots always succeeds, handing back a slot on a fresh task manager.
type fakeSlots struct{}

func (fakeSlots) AllocateSlotExceptOnTaskManager(ctx context.Context, exclude topology.ID) (*topology.Slot, error) {
	id := topology.NewID()
	return &topology.Slot{TaskManagerID: id, TaskManagerLocation: topology.TaskManagerLocation{TaskManagerID: id, Host: "h", GRPCPort: 1}}, nil
}
func (fakeSlots) Release(slot *topology.Slot) {}

type fakeCheckpoints struct{}

func (fakeCheckpoints) GetCurrent() int64 { return 0 }

func newTestServer(t *testing.T, wireTrigger bool) (*Server, *topology.Graph) {
	t.Helper()

	logger, err := observability.NewLogger("error")
	require.NoError(t, err)
	health := observability.NewHealthChecker()
	health.RegisterCheck("control_plane", func(ctx context.Context) error { return nil })
	health.RunChecks(context.Background())

	g := topology.NewGraph(topology.NewID())
	source := g.AddVertex("source", 1, nil)
	g.AddVertex("sink-op", 2, source)

	registry := coordinator.NewRegistry(g.JobID, time.Minute, nil, nil, nil)
	cfg := config.DefaultConfig()

	s := NewServer(cfg, registry, g, health, logger)
	if wireTrigger {
		s.SetTrigger(coordinator.NewTrigger(registry, g, fakeSlots{}, fakeCheckpoints{}, fakeGateway{}, nil))
	}
	return s, g
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPauseAllRouteWithoutTriggerReturns503(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause", pauseAllRequest{OperatorName: "sink"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPauseVertexRouteWithoutTriggerReturns503(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause-vertex", pauseVertexRequest{VertexID: topology.NewID().String()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMigrateRouteWithoutTriggerReturns503(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/migrate", migrateRequest{TaskManagerID: topology.NewID().String()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPauseAllRouteHappyPath(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause", pauseAllRequest{OperatorName: "sink"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["expected"])
}

func TestPauseAllRouteNoMatchReturnsConflict(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause", pauseAllRequest{OperatorName: "nonexistent"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseVertexRouteHappyPath(t *testing.T) {
	s, g := newTestServer(t, true)
	vertices := g.VerticesInCreationOrder()
	sink := vertices[1]

	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause-vertex", pauseVertexRequest{VertexID: sink.ID.String()})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPauseVertexRouteInvalidIDReturnsBadRequest(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause-vertex", pauseVertexRequest{VertexID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMigrateRouteHappyPath(t *testing.T) {
	s, g := newTestServer(t, true)
	vertices := g.VerticesInCreationOrder()
	sink := vertices[1]
	tm := topology.NewID()
	sink.Subtasks[0].Slot = &topology.Slot{TaskManagerID: tm}

	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/migrate", migrateRequest{TaskManagerID: tm.String()})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMigrateRouteNoSubtasksReturnsConflict(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/migrate", migrateRequest{TaskManagerID: topology.NewID().String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusRouteReportsReadyHealthyAndPendingCount(t *testing.T) {
	s, _ := newTestServer(t, true)
	_ = doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause", pauseAllRequest{OperatorName: "sink"})

	rec := doJSON(s.GetRouter(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, float64(1), body["pending"])
}

func TestListModificationsAndGetModificationRoutes(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodPost, "/api/modify/pause", pauseAllRequest{OperatorName: "sink"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	modID := created["mod_id"]

	listRec := doJSON(s.GetRouter(), http.MethodGet, "/api/modifications", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody map[string]any
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	assert.Len(t, listBody["modifications"], 1)

	modIDStr := strconv.FormatInt(int64(modID.(float64)), 10)
	getRec := doJSON(s.GetRouter(), http.MethodGet, "/api/modifications/"+modIDStr, nil)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetModificationUnknownIDReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodGet, "/api/modifications/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetModificationInvalidIDReturnsBadRequest(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodGet, "/api/modifications/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVerticesRoute(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(s.GetRouter(), http.MethodGet, "/api/vertices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["vertices"], 2)
}
