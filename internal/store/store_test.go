package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := testDB(t)

	// Absent key reads as empty, not an error.
	v, err := db.GetSetting(SettingUsername)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("absent setting = %q, want empty", v)
	}

	if err := db.SetSetting(SettingUsername, "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(SettingUsername, "Alice Updated"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetSetting(SettingUsername)
	if err != nil {
		t.Fatal(err)
	}
	if v != "Alice Updated" {
		t.Errorf("setting = %q, want Alice Updated", v)
	}
}

func textPtr(s string) *string { return &s }

func TestJobLifecycle(t *testing.T) {
	db := testDB(t)

	job := &Job{
		MessageID:  "m1",
		Body:       textPtr("hello"),
		MediaURIs:  []string{"/tmp/a.jpg", "/tmp/b.jpg"},
		SenderID:   "d1",
		SenderName: "Alice",
		Timestamp:  1000,
		Stage:      StageUpload,
	}
	if err := db.InsertJob(job); err != nil {
		t.Fatal(err)
	}

	due, err := db.DueJobs(2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due jobs, want 1", len(due))
	}
	got := due[0]
	if got.Stage != StageUpload || got.Status != JobPending {
		t.Errorf("job = %s/%s, want upload/pending", got.Stage, got.Status)
	}
	if len(got.MediaURIs) != 2 || got.MediaURIs[0] != "/tmp/a.jpg" {
		t.Errorf("media_uris = %v", got.MediaURIs)
	}
	if got.Body == nil || *got.Body != "hello" {
		t.Errorf("body = %v, want hello", got.Body)
	}

	if err := db.MarkJobRunning("m1"); err != nil {
		t.Fatal(err)
	}
	due, _ = db.DueJobs(2000)
	if len(due) != 0 {
		t.Errorf("running job still due: %d", len(due))
	}

	// Upload done: advance to send stage with fresh attempt budget.
	if err := db.AdvanceJobToSend("m1", []string{"https://cdn/a", "https://cdn/b"}); err != nil {
		t.Fatal(err)
	}
	j, err := db.GetJob("m1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Stage != StageSend || j.Status != JobPending || j.Attempts != 0 {
		t.Errorf("after advance: %s/%s attempts=%d", j.Stage, j.Status, j.Attempts)
	}
	if len(j.MediaURLs) != 2 || j.MediaURLs[1] != "https://cdn/b" {
		t.Errorf("media_urls = %v", j.MediaURLs)
	}

	if err := db.MarkJobSent("m1"); err != nil {
		t.Fatal(err)
	}
	j, _ = db.GetJob("m1")
	if j.Status != JobSent {
		t.Errorf("status = %s, want sent", j.Status)
	}
}

func TestRescheduleDelaysJob(t *testing.T) {
	db := testDB(t)

	if err := db.InsertJob(&Job{MessageID: "m1", SenderID: "d1", SenderName: "A", Timestamp: 1, Stage: StageSend}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkJobRunning("m1"); err != nil {
		t.Fatal(err)
	}
	if err := db.RescheduleJob("m1", 1, 5000, "network error"); err != nil {
		t.Fatal(err)
	}

	due, err := db.DueJobs(4999)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("job due before next_run_at: %d", len(due))
	}

	due, _ = db.DueJobs(5000)
	if len(due) != 1 {
		t.Fatalf("job not due at next_run_at: %d", len(due))
	}
	if due[0].Attempts != 1 || due[0].LastError != "network error" {
		t.Errorf("attempts=%d last_error=%q", due[0].Attempts, due[0].LastError)
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"m1", "m2"} {
		if err := db.InsertJob(&Job{MessageID: id, SenderID: "d1", SenderName: "A", Timestamp: 1, Stage: StageSend}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkJobRunning("m1"); err != nil {
		t.Fatal(err)
	}

	// Simulates a process that died mid-stage: m1 stuck running.
	n, err := db.RecoverStaleJobs()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered %d jobs, want 1", n)
	}

	due, _ := db.DueJobs(farFuture())
	if len(due) != 2 {
		t.Errorf("got %d due jobs after recovery, want 2", len(due))
	}
}

func TestGetJobMissing(t *testing.T) {
	db := testDB(t)
	j, err := db.GetJob("nope")
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Errorf("expected nil for missing job, got %+v", j)
	}
}

func farFuture() int64 { return 1 << 60 }
