package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/testutil"
)

func TestJobRepository_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	logs := NewJobLogRepository(db)
	account := testutil.TestAccount(t, db)

	job := &model.JobRecord{
		AccountID:     account.ID,
		AlgorithmName: model.AlgorithmGFCI,
		Request:       model.AlgorithmParamRequest{DatasetPath: "/data/a.txt", VariableType: model.VariableContinuous},
		Status:        model.StatusPending,
	}
	require.NoError(t, repo.Create(job, "Job added"))
	assert.NotZero(t, job.ID)

	found, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/a.txt", found.Request.DatasetPath)
	assert.Nil(t, found.Pid)

	log, err := logs.GetByJobID(job.ID)
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, model.StatusPending, log.Entries[0].EventStatus)
	assert.Equal(t, "Job added", log.Entries[0].Progress)
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)

	_, err := repo.GetByID(99999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestJobRepository_FindByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	account := testutil.TestAccount(t, db)

	pending := testutil.TestJob(t, db, account.ID)
	running := testutil.TestJob(t, db, account.ID, testutil.WithStatus(model.StatusRunning), testutil.WithPid(11))
	testutil.TestJob(t, db, account.ID, testutil.WithStatus(model.StatusFinished), testutil.WithPid(12))

	jobs, err := repo.FindByStatus(model.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, pending.ID, jobs[0].ID)
	assert.Equal(t, running.ID, jobs[1].ID)
	assert.Equal(t, int64(11), *jobs[1].Pid)
}

func TestJobRepository_FindFinished(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	a := testutil.TestAccount(t, db)
	b := testutil.TestAccount(t, db)

	testutil.TestJob(t, db, a.ID)
	testutil.TestJob(t, db, a.ID, testutil.WithStatus(model.StatusResultDownloaded), testutil.WithPid(1))
	testutil.TestJob(t, db, b.ID, testutil.WithStatus(model.StatusKilled))

	all, err := repo.FindFinished(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := repo.FindFinished(a.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, model.StatusResultDownloaded, onlyA[0].Status)
}

func TestJobRepository_SaveWithEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	logs := NewJobLogRepository(db)
	account := testutil.TestAccount(t, db)
	job := testutil.TestJob(t, db, account.ID, testutil.WithStatus(model.StatusRunning), testutil.WithPid(5))

	at := time.Now().Add(time.Minute)
	job.Status = model.StatusFinished
	require.NoError(t, repo.SaveWithEntry(job, model.StatusRunning, "Job finished", at))

	found, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, found.Status)

	log, err := logs.GetByJobID(job.ID)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)
	assert.Equal(t, model.StatusFinished, log.Entries[1].EventStatus)
	require.NotNil(t, log.EndedTime)
	assert.WithinDuration(t, at, *log.EndedTime, time.Second)
	assert.Nil(t, log.CanceledTime)
}

func TestJobRepository_SaveWithEntry_KilledSetsCanceled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	logs := NewJobLogRepository(db)
	account := testutil.TestAccount(t, db)
	job := testutil.TestJob(t, db, account.ID)

	job.Status = model.StatusKilled
	require.NoError(t, repo.SaveWithEntry(job, model.StatusPending, "Job killed", time.Now()))

	log, err := logs.GetByJobID(job.ID)
	require.NoError(t, err)
	assert.NotNil(t, log.CanceledTime)
	assert.Nil(t, log.EndedTime)
}

func TestJobRepository_SaveWithEntry_MissingLogRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	account := testutil.TestAccount(t, db)

	job := &model.JobRecord{AccountID: account.ID, AlgorithmName: "FGES", Status: model.StatusPending}
	require.NoError(t, db.Create(job).Error)

	job.Status = model.StatusKilled
	assert.Error(t, repo.SaveWithEntry(job, model.StatusPending, "Job killed", time.Now()))

	found, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, found.Status)
}

func TestJobRepository_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	account := testutil.TestAccount(t, db)
	job := testutil.TestJob(t, db, account.ID, testutil.WithStatus(model.StatusKilled))

	require.NoError(t, repo.Delete(job.ID))

	_, err := repo.GetByID(job.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var entries int64
	require.NoError(t, db.Model(&model.JobLogEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)

	assert.ErrorIs(t, repo.Delete(job.ID), gorm.ErrRecordNotFound)
}

func TestJobRepository_CountByAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	account := testutil.TestAccount(t, db)
	testutil.TestJob(t, db, account.ID)
	testutil.TestJob(t, db, account.ID)

	testutil.TestJob(t, db, account.ID, testutil.WithStatus(model.StatusKilled))

	n, err := repo.CountByAccount(account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	active, err := repo.CountByAccount(account.ID, model.ActiveStatuses...)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)
}

func TestJobRepository_SaveWithEntry_StaleStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	logs := NewJobLogRepository(db)
	account := testutil.TestAccount(t, db)
	job := testutil.TestJob(t, db, account.ID)

	// 两个进程都读到 Pending
	killed := *job
	submitted := *job

	killed.Status = model.StatusKilled
	require.NoError(t, repo.SaveWithEntry(&killed, model.StatusPending, "Job killed before submission", time.Now()))

	pid := int64(42)
	submitted.Status = model.StatusSubmitted
	submitted.Pid = &pid
	err := repo.SaveWithEntry(&submitted, model.StatusPending, "Job submitted", time.Now())
	assert.ErrorIs(t, err, ErrStaleStatus)

	found, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKilled, found.Status)
	assert.Nil(t, found.Pid)

	log, err := logs.GetByJobID(job.ID)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)
	assert.Equal(t, model.StatusKilled, log.Entries[1].EventStatus)
}

func TestJobRepository_SaveWithEntry_WritesMutatedFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepository(db)
	account := testutil.TestAccount(t, db)
	job := testutil.TestJob(t, db, account.ID)

	pid := int64(7)
	now := time.Now()
	job.Status = model.StatusSubmitted
	job.Pid = &pid
	job.SubmittedTime = &now
	require.NoError(t, repo.SaveWithEntry(job, model.StatusPending, "Job submitted", now))

	found, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, found.Status)
	require.NotNil(t, found.Pid)
	assert.Equal(t, pid, *found.Pid)
	assert.NotNil(t, found.SubmittedTime)
}
