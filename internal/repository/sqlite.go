package repository

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/internal/common/util"
)

var (
	// Tables
	runTable    = goqu.T("run")
	jobRunTable = goqu.T("job_run")

	// Columns: job_run table
	jobRun_jobName = goqu.I("job_run.job_name")
)

// State strings are owned by the launcher package; this one is duplicated
// here for the resume query.
const jobStateSucceeded = "SUCCEEDED"

type runRow struct {
	RunId           string `db:"run_id"`
	Pipeline        string `db:"pipeline"`
	ManifestHash    string `db:"manifest_hash"`
	Cluster         string `db:"cluster"`
	Result          string `db:"result"`
	CancelRequested int    `db:"cancel_requested"`
	Started         int64  `db:"started"`
	Finished        int64  `db:"finished"`
}

type jobRunRow struct {
	RunId    string `db:"run_id"`
	JobName  string `db:"job_name"`
	State    string `db:"state"`
	Handle   string `db:"handle"`
	Attempt  int    `db:"attempt"`
	Reason   string `db:"reason"`
	Created  int64  `db:"created"`
	Started  int64  `db:"started"`
	Finished int64  `db:"finished"`
}

// SQLRunStore persists runs to sqlite.
type SQLRunStore struct {
	db     *sql.DB
	goquDb *goqu.Database
	lock   sync.RWMutex
}

func NewSQLRunStore(db *sql.DB) *SQLRunStore {
	return &SQLRunStore{db: db, goquDb: goqu.New("sqlite3", db)}
}

// NewSQLiteDatabase opens the sqlite database at path, creating the parent
// directory if needed. The returned function closes the connection.
func NewSQLiteDatabase(path string) (*sql.DB, func(), error) {
	dbDir := filepath.Dir(path)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if errMkDir := os.MkdirAll(dbDir, 0o755); errMkDir != nil {
			return nil, func() {}, errors.Wrapf(errMkDir, "could not create directory %s for sqlite database", dbDir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, func() {}, errors.Wrapf(err, "error opening sqlite database at %s", path)
	}

	return db, func() { util.CloseResource("run database", db) }, nil
}

// Setup creates the tables if they do not exist. Unlike a cache, run history
// must survive restarts (flotilla status and --resume read older runs), so
// nothing is dropped here.
func (s *SQLRunStore) Setup() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run (
		run_id TEXT,
		pipeline TEXT,
		manifest_hash TEXT,
		cluster TEXT,
		result TEXT,
		cancel_requested INT,
		started INT,
		finished INT,
		PRIMARY KEY(run_id))`)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_run (
		run_id TEXT,
		job_name TEXT,
		state TEXT,
		handle TEXT,
		attempt INT,
		reason TEXT,
		created INT,
		started INT,
		finished INT,
		PRIMARY KEY(run_id, job_name))`)
	if err != nil {
		return errors.WithStack(err)
	}

	_, errIndex := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_job_run_state ON job_run (run_id, state)`)
	if errIndex != nil {
		return errors.WithStack(errIndex)
	}
	return nil
}

func (s *SQLRunStore) CreateRun(run *Run) error {
	// SQLite only allows one write at a time. Therefore we must serialize
	// writes in order to avoid SQL_BUSY errors.
	s.lock.Lock()
	defer s.lock.Unlock()

	sqlStmt := "INSERT INTO run VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	stmt, err := s.db.Prepare(sqlStmt)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stmt.Close()

	row := runToRow(run)
	_, err = stmt.Exec(
		row.RunId, row.Pipeline, row.ManifestHash, row.Cluster,
		row.Result, row.CancelRequested, row.Started, row.Finished)
	return errors.WithStack(err)
}

func (s *SQLRunStore) FinishRun(runId string, result string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := s.db.Exec(
		"UPDATE run SET result = ?, finished = ? WHERE run_id = ?",
		result, time.Now().Unix(), runId)
	if err != nil {
		return errors.WithStack(err)
	}
	return oneRowAffected(res, runId)
}

func (s *SQLRunStore) GetRun(runId string) (*Run, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	row := runRow{}
	found, err := s.goquDb.
		From(runTable).
		Where(goqu.Ex{"run_id": runId}).
		Prepared(true).
		ScanStruct(&row)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !found {
		return nil, errors.WithStack(&flotillaerrors.ErrNotFound{Type: "run", Value: runId})
	}
	return rowToRun(&row), nil
}

func (s *SQLRunStore) UpsertJobRun(jobRun *JobRun) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	sqlStmt := "INSERT OR REPLACE INTO job_run VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	stmt, err := s.db.Prepare(sqlStmt)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stmt.Close()

	row := jobRunToRow(jobRun)
	_, err = stmt.Exec(
		row.RunId, row.JobName, row.State, row.Handle, row.Attempt,
		row.Reason, row.Created, row.Started, row.Finished)
	return errors.WithStack(err)
}

func (s *SQLRunStore) ListJobRuns(runId string) ([]*JobRun, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows := make([]*jobRunRow, 0)
	err := s.goquDb.
		From(jobRunTable).
		Where(goqu.Ex{"run_id": runId}).
		Order(jobRun_jobName.Asc()).
		Prepared(true).
		ScanStructs(&rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	jobRuns := make([]*JobRun, 0, len(rows))
	for _, row := range rows {
		jobRuns = append(jobRuns, rowToJobRun(row))
	}
	return jobRuns, nil
}

func (s *SQLRunStore) RequestCancel(runId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := s.db.Exec("UPDATE run SET cancel_requested = 1 WHERE run_id = ?", runId)
	if err != nil {
		return errors.WithStack(err)
	}
	return oneRowAffected(res, runId)
}

func (s *SQLRunStore) CancelRequested(runId string) (bool, error) {
	run, err := s.GetRun(runId)
	if err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

func (s *SQLRunStore) SucceededJobs(runId string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	names := make([]string, 0)
	err := s.goquDb.
		From(jobRunTable).
		Select(jobRun_jobName).
		Where(goqu.Ex{"run_id": runId, "state": jobStateSucceeded}).
		Order(jobRun_jobName.Asc()).
		Prepared(true).
		ScanVals(&names)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return names, nil
}

// Check returns nil if the database answers a trivial query.
func (s *SQLRunStore) Check() error {
	s.lock.RLock()
	defer s.lock.RUnlock()

	row := s.db.QueryRow("SELECT 1")
	var col int
	return errors.WithStack(row.Scan(&col))
}

func oneRowAffected(res sql.Result, runId string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errors.WithStack(&flotillaerrors.ErrNotFound{Type: "run", Value: runId})
	}
	return nil
}

// Timestamps are stored as unix seconds, zero meaning unset.

func runToRow(run *Run) *runRow {
	cancelRequested := 0
	if run.CancelRequested {
		cancelRequested = 1
	}
	return &runRow{
		RunId:           run.RunId,
		Pipeline:        run.Pipeline,
		ManifestHash:    run.ManifestHash,
		Cluster:         run.Cluster,
		Result:          run.Result,
		CancelRequested: cancelRequested,
		Started:         toUnix(run.Started),
		Finished:        toUnix(run.Finished),
	}
}

func rowToRun(row *runRow) *Run {
	return &Run{
		RunId:           row.RunId,
		Pipeline:        row.Pipeline,
		ManifestHash:    row.ManifestHash,
		Cluster:         row.Cluster,
		Result:          row.Result,
		CancelRequested: row.CancelRequested != 0,
		Started:         fromUnix(row.Started),
		Finished:        fromUnix(row.Finished),
	}
}

func jobRunToRow(jobRun *JobRun) *jobRunRow {
	return &jobRunRow{
		RunId:    jobRun.RunId,
		JobName:  jobRun.JobName,
		State:    jobRun.State,
		Handle:   jobRun.Handle,
		Attempt:  jobRun.Attempt,
		Reason:   jobRun.Reason,
		Created:  toUnix(jobRun.Created),
		Started:  toUnix(jobRun.Started),
		Finished: toUnix(jobRun.Finished),
	}
}

func rowToJobRun(row *jobRunRow) *JobRun {
	return &JobRun{
		RunId:    row.RunId,
		JobName:  row.JobName,
		State:    row.State,
		Handle:   row.Handle,
		Attempt:  row.Attempt,
		Reason:   row.Reason,
		Created:  fromUnix(row.Created),
		Started:  fromUnix(row.Started),
		Finished: fromUnix(row.Finished),
	}
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}
