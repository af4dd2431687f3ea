package tracking

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func newLocalTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := NewLocal(filepath.Join(root, "tracking"))
	if err != nil {
		t.Fatalf("NewLocal() err=%v", err)
	}
	tracker, err := New(backend, Options{Project: "nyc_airbnb", Actor: "ci", CacheDir: filepath.Join(root, "cache")})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return tracker, root
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	return path
}

func logFile(t *testing.T, run *Run, name, artifactType, path string) Reference {
	t.Helper()
	artifact := NewArtifact(name, artifactType, "test payload")
	if err := artifact.AddFile(path); err != nil {
		t.Fatalf("AddFile() err=%v", err)
	}
	ref, err := run.LogArtifact(context.Background(), artifact)
	if err != nil {
		t.Fatalf("LogArtifact() err=%v", err)
	}
	return ref
}

func TestLocal_LogThenUse(t *testing.T) {
	ctx := context.Background()
	tracker, root := newLocalTracker(t)

	producer, err := tracker.StartRun(ctx, "upload", map[string]any{"source": "test"})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	src := writeFile(t, root, "sample.csv", "price,last_review\n50,2019-01-01\n")
	ref := logFile(t, producer, "sample.csv", "raw_data", src)
	if !ref.Created || ref.String() != "nyc_airbnb/sample.csv:v1" {
		t.Fatalf("ref=%+v", ref)
	}
	if err := producer.Finish(ctx, nil); err != nil {
		t.Fatalf("Finish() err=%v", err)
	}

	consumer, err := tracker.StartRun(ctx, "basic_cleaning", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	for _, in := range []string{"sample.csv", "sample.csv:latest", "sample.csv:v1", "nyc_airbnb/sample.csv:v1"} {
		path, err := consumer.UseArtifact(ctx, in)
		if err != nil {
			t.Fatalf("UseArtifact(%q) err=%v", in, err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() err=%v", err)
		}
		if string(raw) != "price,last_review\n50,2019-01-01\n" {
			t.Fatalf("downloaded content=%q", raw)
		}
	}
	if err := consumer.Finish(ctx, nil); err != nil {
		t.Fatalf("Finish() err=%v", err)
	}

	var manifest localRun
	raw, err := os.ReadFile(filepath.Join(root, "tracking", "runs", consumer.ID()+".yaml"))
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if manifest.Status != "finished" || len(manifest.Used) != 4 || manifest.FinishedAt == nil {
		t.Fatalf("run manifest=%+v", manifest)
	}
	if _, err := os.Stat(filepath.Join(root, "cache", consumer.ID())); !os.IsNotExist(err) {
		t.Fatalf("download cache not removed: %v", err)
	}
}

func TestLocal_Versions(t *testing.T) {
	ctx := context.Background()
	tracker, root := newLocalTracker(t)
	run, err := tracker.StartRun(ctx, "basic_cleaning", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}

	first := logFile(t, run, "clean.csv", "clean_sample", writeFile(t, root, "a.csv", "price\n1\n"))
	second := logFile(t, run, "clean.csv", "clean_sample", writeFile(t, root, "b.csv", "price\n2\n"))
	again := logFile(t, run, "clean.csv", "clean_sample", writeFile(t, root, "c.csv", "price\n1\n"))

	if first.Ref.Alias != "v1" || second.Ref.Alias != "v2" {
		t.Fatalf("aliases=%s,%s", first.Ref.Alias, second.Ref.Alias)
	}
	if again.Created || again.VersionID != first.VersionID {
		t.Fatalf("identical content should reuse v1, got %+v", again)
	}

	path, err := run.UseArtifact(ctx, "clean.csv:v2")
	if err != nil {
		t.Fatalf("UseArtifact() err=%v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "price\n2\n" {
		t.Fatalf("v2 content=%q", raw)
	}
}

func TestLocal_RelogOlderContentMovesLatest(t *testing.T) {
	ctx := context.Background()
	tracker, root := newLocalTracker(t)

	var refs []Reference
	var runIDs []string
	for i, content := range []string{"price\n50\n", "price\n50\n400\n", "price\n50\n"} {
		run, err := tracker.StartRun(ctx, "basic_cleaning", nil)
		if err != nil {
			t.Fatalf("StartRun() err=%v", err)
		}
		src := writeFile(t, root, "clean.csv", content)
		refs = append(refs, logFile(t, run, "clean.csv", "clean_sample", src))
		runIDs = append(runIDs, run.ID())
		if err := run.Finish(ctx, nil); err != nil {
			t.Fatalf("Finish() run %d err=%v", i, err)
		}
	}
	if refs[2].Created || refs[2].VersionID != refs[0].VersionID {
		t.Fatalf("third ref=%+v, want reuse of %s", refs[2], refs[0].VersionID)
	}

	var manifest localRun
	raw, err := os.ReadFile(filepath.Join(root, "tracking", "runs", runIDs[2]+".yaml"))
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if len(manifest.Produced) != 1 || manifest.Produced[0].VersionID != refs[0].VersionID {
		t.Fatalf("third run produced=%+v, want %s", manifest.Produced, refs[0].VersionID)
	}

	reader, err := tracker.StartRun(ctx, "read", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	for _, ref := range []string{"clean.csv", "clean.csv:latest"} {
		path, err := reader.UseArtifact(ctx, ref)
		if err != nil {
			t.Fatalf("UseArtifact(%q) err=%v", ref, err)
		}
		got, _ := os.ReadFile(path)
		if string(got) != "price\n50\n" {
			t.Fatalf("UseArtifact(%q) content=%q, want the re-logged v1", ref, got)
		}
	}
}

func TestLocal_TypeConflict(t *testing.T) {
	ctx := context.Background()
	tracker, root := newLocalTracker(t)
	run, err := tracker.StartRun(ctx, "basic_cleaning", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	logFile(t, run, "clean.csv", "clean_sample", writeFile(t, root, "a.csv", "price\n1\n"))

	artifact := NewArtifact("clean.csv", "raw_data", "")
	if err := artifact.AddFile(writeFile(t, root, "b.csv", "price\n2\n")); err != nil {
		t.Fatalf("AddFile() err=%v", err)
	}
	if _, err := run.LogArtifact(ctx, artifact); !errors.Is(err, ErrTypeConflict) {
		t.Fatalf("LogArtifact() err=%v, want ErrTypeConflict", err)
	}
}

func TestLocal_UseMissing(t *testing.T) {
	ctx := context.Background()
	tracker, root := newLocalTracker(t)
	run, err := tracker.StartRun(ctx, "basic_cleaning", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	logFile(t, run, "sample.csv", "raw_data", writeFile(t, root, "a.csv", "price\n1\n"))

	for _, in := range []string{"missing.csv", "sample.csv:v7", "sample.csv:prod", ""} {
		if _, err := run.UseArtifact(ctx, in); !errors.Is(err, ErrArtifactNotFound) {
			t.Fatalf("UseArtifact(%q) err=%v, want ErrArtifactNotFound", in, err)
		}
	}
}

func TestRun_FinishTwice(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newLocalTracker(t)
	run, err := tracker.StartRun(ctx, "basic_cleaning", nil)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if err := run.Finish(ctx, errors.New("boom")); err != nil {
		t.Fatalf("Finish() err=%v", err)
	}
	if err := run.Finish(ctx, nil); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("Finish() err=%v, want ErrRunFinished", err)
	}
	if _, err := run.UseArtifact(ctx, "x.csv"); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("UseArtifact() err=%v, want ErrRunFinished", err)
	}
}

func TestArtifact_AddFile(t *testing.T) {
	dir := t.TempDir()
	artifact := NewArtifact("clean.csv", "clean_sample", "desc")
	if err := artifact.Validate(); err == nil {
		t.Fatalf("Validate() expected error without file")
	}
	if err := artifact.AddFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatalf("AddFile() expected error for missing file")
	}
	if err := artifact.AddFile(dir); err == nil {
		t.Fatalf("AddFile() expected error for directory")
	}
	path := writeFile(t, dir, "clean.csv", "x\n")
	if err := artifact.AddFile(path); err != nil {
		t.Fatalf("AddFile() err=%v", err)
	}
	if err := artifact.AddFile(path); err == nil {
		t.Fatalf("AddFile() expected error for second file")
	}
	if err := artifact.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() err=%v", err)
	}
	if _, err := New(nil, Options{Project: "p", Actor: "a"}); err == nil {
		t.Fatalf("expected error for nil backend")
	}
	if _, err := New(backend, Options{Project: "", Actor: "a"}); err == nil {
		t.Fatalf("expected error for empty project")
	}
	if _, err := New(backend, Options{Project: "p", Actor: " "}); err == nil {
		t.Fatalf("expected error for empty actor")
	}
}
