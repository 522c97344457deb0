package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/api/middleware"
	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/progress"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
	"github.com/qs3c/hpc_job_server/internal/pkg/secret"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
	"github.com/qs3c/hpc_job_server/internal/service"
	"github.com/qs3c/hpc_job_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	DB      *gorm.DB
	Manager *service.JobManager
	Remote  *testutil.FakeRemote
	Queue   *queue.MemoryQueue
	Account *model.AccountProfile
	Router  *gin.Engine
}

func setupHandlers(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	box, err := secret.NewBox("test")
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(db, box)
	jobs := repository.NewJobRepository(db)
	remote := testutil.NewFakeRemote()
	tokens := token.NewCache(&testutil.FakeAuthenticator{}, time.Hour)
	conns := remote.Factory()
	q := queue.NewMemoryQueue(64)

	mgr := service.NewJobManager(jobs, repository.NewJobLogRepository(db), accounts, tokens, conns,
		q, pubsub.NewBroker(), progress.NewTracker())
	accountHandler := NewAccountHandler(service.NewAccountService(accounts, jobs, tokens, conns))
	jobHandler := NewJobHandler(mgr)

	account := &model.AccountProfile{
		ConnectionName: "lab", Scheme: "http", Host: "127.0.0.1", Port: 9000, Username: "u", Password: "p",
	}
	require.NoError(t, accounts.Create(account))

	router := gin.New()
	router.Use(mockAuth(1))
	router.POST("/accounts", accountHandler.Create)
	router.GET("/accounts", accountHandler.List)
	router.GET("/accounts/:id", accountHandler.Get)
	router.PUT("/accounts/:id", accountHandler.Update)
	router.DELETE("/accounts/:id", accountHandler.Delete)
	router.POST("/jobs", jobHandler.Submit)
	router.GET("/jobs", jobHandler.Query)
	router.GET("/jobs/finished", jobHandler.Finished)
	router.GET("/jobs/:id", jobHandler.Detail)
	router.POST("/jobs/:id/kill", jobHandler.Kill)
	router.POST("/jobs/:id/result", jobHandler.Result)
	router.POST("/jobs/:id/requeue", jobHandler.Requeue)
	router.DELETE("/jobs/:id", jobHandler.Delete)
	router.GET("/uploads/progress", jobHandler.UploadProgress)

	return &testContext{
		DB:      db,
		Manager: mgr,
		Remote:  remote,
		Queue:   q,
		Account: account,
		Router:  router,
	}
}

// mockAuth 模拟认证中间件
func mockAuth(operatorID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.OperatorIDKey, operatorID)
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData 把 data 字段解码到 out
func decodeData(t *testing.T, resp response.Response, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
