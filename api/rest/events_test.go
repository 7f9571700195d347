package rest_test

import (
	"net/http"
	"testing"

	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostEvent_ReturnsNotices(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/api/players/p1/quests/first_steps/accept", nil).Code)

	w := f.post("/api/events", event("p1", quest.Event{ID: "e1", Type: quest.EventInteract, Target: "elder"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["duplicate"])
	notices := body["notices"].([]interface{})
	require.Len(t, notices, 2)
	done := notices[1].(map[string]interface{})
	assert.Equal(t, string(quest.NoticeQuestCompleted), done["kind"])
	assert.EqualValues(t, 50, done["reward"].(map[string]interface{})["exp"])
}

func TestPostEvent_IrrelevantEvent(t *testing.T) {
	f := newFixture(t)
	w := f.post("/api/events", event("p1", quest.Event{Type: quest.EventKill, Target: "zombie"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["notices"])
}

func TestPostEvent_DuplicateID(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/api/players/p1/quests/daily_fishing/accept", nil).Code)

	ev := event("p1", quest.Event{ID: "catch-1", Type: quest.EventFish, Target: "trout"})
	require.Equal(t, http.StatusOK, f.post("/api/events", ev).Code)

	w := f.post("/api/events", ev)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["duplicate"])
	assert.Empty(t, body["notices"])

	completed := decode(t, f.get("/api/players/p1/quests/completed"))["quests"].([]interface{})
	require.Len(t, completed, 1)
	assert.EqualValues(t, 1, completed[0].(map[string]interface{})["count"])
}

func TestPostEvent_Rejects(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/events", event("p1", quest.Event{Type: "teleport"})).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/events", map[string]interface{}{
		"event": quest.Event{Type: quest.EventKill},
	}).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/events", "junk").Code)
}
