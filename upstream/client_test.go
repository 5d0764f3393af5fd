package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ops-console/domain"
)

func TestSyncRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sync":
			_, _ = io.WriteString(w, `{"jobId":"job-42"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/sync/job-42":
			_, _ = io.WriteString(w, `{"status":"running","progress":60}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", "secret", time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	id, err := c.StartSync(context.Background())
	if err != nil || id != "job-42" {
		t.Fatalf("start sync: %q %v", id, err)
	}
	st, err := c.SyncStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != domain.JobRunning || st.Progress != 60 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestDeploymentRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/clusters/c-1/deployments":
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"action":"scale"}` {
				t.Errorf("unexpected body %s", body)
			}
			_, _ = io.WriteString(w, `{"deploymentId":"dep-7"}`)
		case r.URL.Path == "/deployments/dep-7":
			_, _ = io.WriteString(w, `{"status":"running","progress":30,"currentStep":"drain","nodeTasks":{"n1":{"status":"completed","progress":100}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "", time.Second)
	id, err := c.StartDeployment(context.Background(), "c-1", domain.ActionScale)
	if err != nil || id != "dep-7" {
		t.Fatalf("start deployment: %q %v", id, err)
	}
	st, err := c.DeploymentStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CurrentStep != "drain" || st.NodeTasks["n1"].Status != domain.JobCompleted {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cluster busy", http.StatusConflict)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "", time.Second)
	_, err := c.StartSync(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict || se.Body != "cluster busy" {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("ops.internal", "", 0); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
