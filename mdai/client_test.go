package mdai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carbocation/segupload"
	"github.com/carbocation/segupload/annotation"
	"gopkg.in/guregu/null.v3"
)

func testRecords(n int) []annotation.Record {
	out := make([]annotation.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, annotation.Record{
			LabelID:        "L1",
			SOPInstanceUID: null.StringFrom(fmt.Sprintf("UID_%d", i)),
			Data:           json.RawMessage(`{"foreground":[],"background":[]}`),
		})
	}

	return out
}

func TestImportAnnotationsPollsJob(t *testing.T) {
	polls := 0
	var got importRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-access-token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case importPath:
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Error(err)
			}
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"jobId": "job-1"}`)
		case progressPath:
			var req progressRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID != "job-1" {
				t.Errorf("Unexpected progress request %+v (%v)", req, err)
			}
			polls++
			if polls < 2 {
				fmt.Fprint(w, `{"status": "RUNNING", "progress": 50}`)
				return
			}
			fmt.Fprint(w, `{"status": "DONE", "failedAnnotations": [{"index": 1, "reason": "unknown SOPInstanceUID"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret", WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	failures, err := c.ImportAnnotations(context.Background(), testRecords(2), "P1", "D1")
	if err != nil {
		t.Fatal(err)
	}

	if got.ProjectHashID != "P1" || got.DatasetHashID != "D1" || len(got.Annotations) != 2 {
		t.Errorf("Unexpected import request %+v", got)
	}
	if got.Annotations[1].SOPInstanceUID.String != "UID_1" {
		t.Errorf("Records were not sent in order: %+v", got.Annotations)
	}
	if polls != 2 {
		t.Errorf("Expected 2 polls, got %d", polls)
	}
	if len(failures) != 1 || failures[0].Index != 1 || failures[0].Reason != "unknown SOPInstanceUID" {
		t.Errorf("Unexpected failures %+v", failures)
	}
}

func TestImportAnnotationsChunksOffsetIndexes(t *testing.T) {
	var sizes []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		sizes = append(sizes, len(req.Annotations))

		// Reject the first record of every chunk, synchronously
		fmt.Fprint(w, `{"failedAnnotations": [{"index": 0}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret", WithChunkSize(2))
	if err != nil {
		t.Fatal(err)
	}

	failures, err := c.ImportAnnotations(context.Background(), testRecords(5), "P1", "D1")
	if err != nil {
		t.Fatal(err)
	}

	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Errorf("Unexpected chunk sizes %v", sizes)
	}

	var idx []int
	for _, f := range failures {
		idx = append(idx, f.Index)
	}
	if fmt.Sprint(idx) != "[0 2 4]" {
		t.Errorf("Unexpected failure indexes %v", idx)
	}
}

func TestImportAnnotationsJobError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == importPath {
			fmt.Fprint(w, `{"jobId": "job-2"}`)
			return
		}
		fmt.Fprint(w, `{"status": "ERROR", "error": "dataset not found"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.ImportAnnotations(context.Background(), testRecords(1), "P1", "D1"); err == nil {
		t.Error("Expected an error for a failed job")
	}
}

func TestImportAnnotationsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "no access"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.ImportAnnotations(context.Background(), testRecords(1), "P1", "D1")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", statusErr.StatusCode)
	}
}

func TestImportAnnotationsAcceptedWithoutJobID(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case importPath:
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"runId": "r1"}`)
		case progressPath:
			polls++
			fmt.Fprint(w, `{"status": "DONE", "failedAnnotations": [{"index": 0, "reason": "rejected"}]}`)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret", WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	failures, err := c.ImportAnnotations(context.Background(), testRecords(1), "P1", "D1")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError for a 202 without a jobId, got failures=%v err=%v", failures, err)
	}
	if statusErr.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", statusErr.StatusCode)
	}
	if polls != 0 {
		t.Errorf("Expected no progress polls, got %d", polls)
	}
}

func TestImportAnnotationsCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == importPath {
			fmt.Fprint(w, `{"jobId": "job-3"}`)
			return
		}
		fmt.Fprint(w, `{"status": "RUNNING"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret", WithPollInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.ImportAnnotations(ctx, testRecords(1), "P1", "D1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected a deadline error, got %v", err)
	}
}

func TestParseFailuresBareAnnotation(t *testing.T) {
	failures := parseFailures([]json.RawMessage{json.RawMessage(`{"labelId": "L1", "SOPInstanceUID": "UID_A"}`)})

	if len(failures) != 1 || failures[0].Index != -1 {
		t.Fatalf("Unexpected failures %+v", failures)
	}
	if string(failures[0].Record) != `{"labelId": "L1", "SOPInstanceUID": "UID_A"}` {
		t.Errorf("Expected the raw annotation to be kept, got %s", failures[0].Record)
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("company.md.ai/", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != "https://company.md.ai" {
		t.Errorf("Unexpected base URL %s", c.baseURL)
	}

	_, err = NewClient("", "secret")
	var conf *segupload.ConfigurationError
	if !errors.As(err, &conf) {
		t.Errorf("Expected ConfigurationError for an empty domain, got %v", err)
	}
}

func TestAccessTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "")
	if _, err := AccessTokenFromEnv(); err == nil {
		t.Error("Expected an error without a token")
	}

	t.Setenv(TokenEnv, " abc \n")
	token, err := AccessTokenFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if token != "abc" {
		t.Errorf("Expected abc, got %q", token)
	}
}
