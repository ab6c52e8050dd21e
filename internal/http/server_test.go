package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

type fakeJobs struct {
	submitID  string
	submitErr error
	job       *core.DownloadJob
	jobErr    error
	history   []*core.DownloadJob
	canceled  []string
}

func (f *fakeJobs) Submit(string) (string, error) { return f.submitID, f.submitErr }

func (f *fakeJobs) Cancel(jobID string) error {
	if f.jobErr != nil {
		return f.jobErr
	}
	f.canceled = append(f.canceled, jobID)
	return nil
}

func (f *fakeJobs) Status(string) (*core.DownloadJob, error) { return f.job, f.jobErr }

func (f *fakeJobs) History(int, int) ([]*core.DownloadJob, error) { return f.history, nil }

func newTestServer(t *testing.T, jobs JobService) *Server {
	t.Helper()
	s := &Server{
		config: &core.ServerConfig{},
		logger: zap.NewNop(),
	}
	s.jobs = jobs
	return s
}

func TestServer_SubmitJob(t *testing.T) {
	s := newTestServer(t, &fakeJobs{submitID: "job-1"})

	body := bytes.NewBufferString(`{"url": "https://music.163.com/song?id=1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	rec := httptest.NewRecorder()
	s.handleJobs(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, expected 202", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["job_id"] != "job-1" {
		t.Errorf("job_id = %q", resp["job_id"])
	}
}

func TestServer_SubmitRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		jobs     JobService
		expected int
	}{
		{
			name:     "empty body",
			body:     `{}`,
			jobs:     &fakeJobs{},
			expected: http.StatusBadRequest,
		},
		{
			name:     "invalid json",
			body:     `{`,
			jobs:     &fakeJobs{},
			expected: http.StatusBadRequest,
		},
		{
			name:     "unsupported link",
			body:     `{"url": "https://example.com"}`,
			jobs:     &fakeJobs{submitErr: &core.UnsupportedLinkError{Link: "https://example.com"}},
			expected: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.jobs)
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			s.handleJobs(rec, req)
			if rec.Code != tt.expected {
				t.Errorf("status = %d, expected %d", rec.Code, tt.expected)
			}
		})
	}
}

func TestServer_JobStatus(t *testing.T) {
	now := time.Now()
	job := &core.DownloadJob{
		ID:        "job-1",
		Link:      core.LinkDescriptor{Platform: core.PlatformNetease, Kind: core.KindTrack, ID: "101"},
		SourceURL: "https://music.163.com/song?id=101",
		Title:     "Dreams",
		State:     core.BatchDone,
		CreatedAt: now,
		Tracks: []*core.TrackJob{
			{
				Index:  0,
				Ref:    core.TrackRef{Platform: core.PlatformNetease, ID: "101"},
				Meta:   &core.TrackMetadata{Title: "Dreams", Artists: []string{"Faye Wong"}},
				State:  core.TrackDone,
				Chosen: &core.QualityDescriptor{Label: "lossless"},
				Output: "/lib/a.flac",
			},
		},
	}
	s := newTestServer(t, &fakeJobs{job: job})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	s.handleJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var resp jobJSON
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "job-1" || resp.State != "done" {
		t.Errorf("job = %+v", resp)
	}
	if len(resp.Tracks) != 1 {
		t.Fatalf("got %d tracks, expected 1", len(resp.Tracks))
	}
	track := resp.Tracks[0]
	if track.Title != "Dreams" || track.Artist != "Faye Wong" || track.Quality != "lossless" {
		t.Errorf("track = %+v", track)
	}
}

func TestServer_JobNotFound(t *testing.T) {
	s := newTestServer(t, &fakeJobs{jobErr: core.ErrJobNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	s.handleJob(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestServer(t, jobs)

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	s.handleJob(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, expected 202", rec.Code)
	}
	if len(jobs.canceled) != 1 || jobs.canceled[0] != "job-1" {
		t.Errorf("canceled = %v", jobs.canceled)
	}
}

func TestServer_HistoryList(t *testing.T) {
	s := newTestServer(t, &fakeJobs{history: []*core.DownloadJob{
		{ID: "job-2", State: core.BatchDone, CreatedAt: time.Now()},
		{ID: "job-1", State: core.BatchPartial, CreatedAt: time.Now().Add(-time.Hour)},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=10", nil)
	rec := httptest.NewRecorder()
	s.handleJobs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var resp struct {
		Jobs []jobJSON `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Jobs) != 2 || resp.Jobs[0].ID != "job-2" {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
	if len(resp.Jobs[0].Tracks) != 0 {
		t.Error("history summaries must not carry tracks")
	}
}

func TestServer_NotReadyBeforeBind(t *testing.T) {
	s := &Server{config: &core.ServerConfig{}, logger: zap.NewNop()}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"url":"x"}`))
	rec := httptest.NewRecorder()
	s.handleJobs(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, expected 503 before BindJobs", rec.Code)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=25&offset=bad", nil)
	if got := queryInt(req, "limit", 50); got != 25 {
		t.Errorf("queryInt(limit) = %d, expected 25", got)
	}
	if got := queryInt(req, "offset", 0); got != 0 {
		t.Errorf("queryInt(bad offset) = %d, expected fallback", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("queryInt(missing) = %d, expected fallback", got)
	}
}
