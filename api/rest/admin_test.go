package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/questforge/server/audit"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"github.com/kasuganosora/questforge/server/model"
	"github.com/kasuganosora/questforge/server/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_Metrics(t *testing.T) {
	f := newFixture(t)
	body := decode(t, f.get("/api/admin/metrics"))
	assert.EqualValues(t, 3, body["quests"])
	assert.EqualValues(t, 0, body["ingest_sessions"])
	assert.Equal(t, []interface{}{scheduler.TaskRewardRetry}, body["scheduler_tasks"])
	assert.Contains(t, body["audit"], "dropped")

	body = decode(t, f.get("/api/admin/sessions"))
	assert.EqualValues(t, 0, body["count"])
}

func TestAdmin_RewardLifecycle(t *testing.T) {
	f := newFixture(t)
	f.wallet.setBroken(true)
	f.finishFirstSteps(t, "p1")

	grants := decode(t, f.get("/api/admin/rewards/pending"))["grants"].([]interface{})
	require.Len(t, grants, 1)
	g := grants[0].(map[string]interface{})
	instanceID := g["instance_id"].(string)
	assert.Equal(t, "first_steps", g["quest_id"])
	assert.EqualValues(t, 1, g["attempts"])
	assert.Contains(t, g["last_error"], "wallet offline")

	// the completion is still acknowledged: the ledger owns the retry
	outbox := decode(t, f.get("/api/admin/players/p1/outbox"))["notices"].([]interface{})
	assert.Empty(t, outbox)

	f.advance(2 * time.Second)
	body := decode(t, f.post("/api/admin/rewards/retry", nil))
	assert.EqualValues(t, 0, body["issued"])
	assert.EqualValues(t, 1, body["failed"])

	failed := decode(t, f.get("/api/admin/rewards?status=failed"))["grants"].([]interface{})
	require.Len(t, failed, 1)

	f.wallet.setBroken(false)
	require.Equal(t, http.StatusOK, f.post("/api/admin/rewards/"+instanceID+"/requeue", nil).Code)
	body = decode(t, f.post("/api/admin/rewards/retry?limit=10", nil))
	assert.EqualValues(t, 1, body["issued"])

	w := f.get("/api/admin/rewards/" + instanceID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.GrantIssued, decode(t, w)["status"])
	assert.Len(t, f.wallet.grants, 1)

	assert.Equal(t, http.StatusNotFound, f.post("/api/admin/rewards/"+instanceID+"/requeue", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/api/admin/rewards/missing").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/admin/rewards?status=bogus").Code)

	all := decode(t, f.get("/api/admin/rewards?status=all"))
	assert.EqualValues(t, 1, all["count"])
}

func TestAdmin_Scheduler(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.post("/api/admin/scheduler/nope/run", nil).Code)
	assert.Equal(t, http.StatusAccepted, f.post("/api/admin/scheduler/"+scheduler.TaskRewardRetry+"/run", nil).Code)

	require.Eventually(t, func() bool {
		tasks := decode(t, f.get("/api/admin/scheduler"))["tasks"].([]interface{})
		if len(tasks) != 1 {
			return false
		}
		return tasks[0].(map[string]interface{})["runs"].(float64) >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAdmin_Redeliver(t *testing.T) {
	f := newFixture(t)
	w := f.post("/api/admin/players/p1/redeliver", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["delivered"])
}

func TestAdmin_Audit(t *testing.T) {
	f := newFixture(t)
	f.finishFirstSteps(t, "p1")
	f.audit.Stop(context.Background())

	entries := decode(t, f.get("/api/admin/players/p1/audit"))["entries"].([]interface{})
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.(map[string]interface{})["action"].(string))
	}
	// newest first
	assert.Equal(t, []string{
		audit.ActionQuestCompleted,
		audit.ActionRewardIssued,
		audit.ActionQuestAccepted,
	}, actions)
}

func TestAdmin_IssueToken(t *testing.T) {
	f := newFixture(t)

	w := f.post("/api/admin/tokens", map[string]string{"role": mw.RolePlayer, "player_id": "p1", "ttl": "10m"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	claims, err := mw.ParseToken(decode(t, w)["token"].(string), "rest-test-secret")
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)
	assert.Equal(t, mw.RolePlayer, claims.Role)

	w = f.post("/api/admin/tokens", map[string]string{"role": mw.RoleService})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusBadRequest, f.post("/api/admin/tokens", map[string]string{"role": mw.RolePlayer}).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/admin/tokens", map[string]string{"role": "root"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/admin/tokens", map[string]string{"role": mw.RoleAdmin, "ttl": "soon"}).Code)
}
