package cleaning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/basic-cleaning/internal/dataset"
	"github.com/animus-labs/basic-cleaning/internal/tracking"
)

type stubRun struct {
	path    string
	useErr  error
	logErr  error
	usedRef string
	logged  *tracking.Artifact
	content string
}

func (s *stubRun) UseArtifact(ctx context.Context, ref string) (string, error) {
	s.usedRef = ref
	if s.useErr != nil {
		return "", s.useErr
	}
	return s.path, nil
}

func (s *stubRun) LogArtifact(ctx context.Context, artifact *tracking.Artifact) (tracking.Reference, error) {
	s.logged = artifact
	raw, err := os.ReadFile(artifact.File())
	if err != nil {
		return tracking.Reference{}, err
	}
	s.content = string(raw)
	if s.logErr != nil {
		return tracking.Reference{}, s.logErr
	}
	return tracking.Reference{Type: artifact.Type, Created: true}, nil
}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	return path
}

func testConfig(min, max float64) Config {
	return Config{
		InputArtifact:     "sample.csv:latest",
		OutputArtifact:    "clean_sample.csv",
		OutputType:        "clean_sample",
		OutputDescription: "Data with outliers and null values removed",
		MinPrice:          min,
		MaxPrice:          max,
	}
}

func TestClean_Stub(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		min, max float64
		want     string
	}{
		{
			name:  "drops price outliers",
			input: "price,last_review\n50,2019-01-01\n5000,2019-02-01\n",
			min:   10,
			max:   1000,
			want:  "price,last_review\n50,2019-01-01\n",
		},
		{
			name:  "unparseable date becomes null",
			input: "price,last_review\n50,not-a-date\n",
			min:   10,
			max:   1000,
			want:  "price,last_review\n50,\n",
		},
		{
			name:  "zero range yields header only",
			input: "price,last_review\n50,2019-01-01\n75,2019-02-01\n",
			min:   0,
			max:   0,
			want:  "price,last_review\n",
		},
		{
			name:  "inverted range yields header only",
			input: "price,last_review\n50,2019-01-01\n",
			min:   100,
			max:   10,
			want:  "price,last_review\n",
		},
		{
			name:  "bounds are inclusive",
			input: "price,last_review\n10,2019-01-01\n1000,\n9.99,2019-01-02\n",
			min:   10,
			max:   1000,
			want:  "price,last_review\n10,2019-01-01\n1000,\n",
		},
		{
			name:  "other columns kept in order",
			input: "id,name,price,last_review,neighbourhood\n1,\"Loft \"\"A\"\"\",50,2019-05-21,Harlem\n2,Room,3,2019-05-22,SoHo\n",
			min:   10,
			max:   1000,
			want:  "id,name,price,last_review,neighbourhood\n1,\"Loft \"\"A\"\"\",50,2019-05-21,Harlem\n",
		},
		{
			name:  "null and non-numeric prices dropped",
			input: "price,last_review\n,2019-01-01\nabc,2019-01-01\nNaN,2019-01-01\n20,2019-01-01\n",
			min:   10,
			max:   1000,
			want:  "price,last_review\n20,2019-01-01\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := &stubRun{path: writeInput(t, tc.input)}
			workDir := t.TempDir()
			cleaner := New(Options{WorkDir: workDir})

			ref, err := cleaner.Clean(context.Background(), run, testConfig(tc.min, tc.max))
			if err != nil {
				t.Fatalf("Clean() err=%v", err)
			}
			if !ref.Created || ref.Type != "clean_sample" {
				t.Fatalf("ref=%+v", ref)
			}
			if run.usedRef != "sample.csv:latest" {
				t.Fatalf("used ref=%q", run.usedRef)
			}
			if run.content != tc.want {
				t.Fatalf("output=%q, want %q", run.content, tc.want)
			}
			if _, err := os.Stat(filepath.Join(workDir, "clean_sample.csv")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("output file not removed: err=%v", err)
			}
		})
	}
}

func TestClean_OutputInvariants(t *testing.T) {
	input := "price,last_review,minimum_nights\n" +
		"150,2019-07-01,1\n" +
		"9,2019-07-02,2\n" +
		"350,07/03/2019,3\n" +
		"351,2019-07-04,4\n" +
		"200,,5\n" +
		"220,soon,6\n"
	run := &stubRun{path: writeInput(t, input)}
	if _, err := New(Options{WorkDir: t.TempDir()}).Clean(context.Background(), run, testConfig(10, 350)); err != nil {
		t.Fatalf("Clean() err=%v", err)
	}

	out := writeInput(t, run.content)
	table, err := dataset.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}
	if table.Len() != 4 {
		t.Fatalf("rows=%d, want 4", table.Len())
	}
	price, review := table.Column("price"), table.Column("last_review")
	for _, row := range table.Rows {
		v, ok := dataset.ParseNumber(row[price])
		if !ok || v < 10 || v > 350 {
			t.Fatalf("price %q out of bounds", row[price])
		}
		if row[review] == "" {
			continue
		}
		if _, ok := dataset.ParseDate(row[review]); !ok || len(row[review]) != len("2006-01-02") {
			t.Fatalf("last_review %q not normalized", row[review])
		}
	}

	md := run.logged.Metadata
	if md["rows_in"] != 6 || md["rows_out"] != 4 || md["rows_dropped"] != 2 || md["dates_nulled"] != 1 {
		t.Fatalf("metadata=%v", md)
	}
	if md["input_artifact"] != "sample.csv:latest" {
		t.Fatalf("input_artifact=%v", md["input_artifact"])
	}
	if run.logged.Name != "clean_sample.csv" || run.logged.Description != "Data with outliers and null values removed" {
		t.Fatalf("artifact=%+v", run.logged)
	}
}

func TestClean_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		run   *stubRun
		cfg   Config
		class error
		phase Phase
	}{
		{
			name:  "unresolved input",
			run:   &stubRun{useErr: tracking.ErrArtifactNotFound},
			cfg:   testConfig(10, 100),
			class: ErrArtifactNotFound,
			phase: PhaseDownload,
		},
		{
			name:  "malformed csv",
			input: "price,last_review\n\"50,2019-01-01\n",
			run:   &stubRun{},
			cfg:   testConfig(10, 100),
			class: ErrParse,
			phase: PhaseParse,
		},
		{
			name:  "empty file",
			input: "",
			run:   &stubRun{},
			cfg:   testConfig(10, 100),
			class: ErrParse,
			phase: PhaseParse,
		},
		{
			name:  "missing price column",
			input: "cost,last_review\n50,2019-01-01\n",
			run:   &stubRun{},
			cfg:   testConfig(10, 100),
			class: ErrParse,
			phase: PhaseParse,
		},
		{
			name:  "registration rejected",
			input: "price,last_review\n50,2019-01-01\n",
			run:   &stubRun{logErr: tracking.ErrTypeConflict},
			cfg:   testConfig(10, 100),
			class: ErrRegistration,
			phase: PhaseRegistration,
		},
		{
			name:  "missing output type",
			run:   &stubRun{},
			cfg:   Config{InputArtifact: "a.csv", OutputArtifact: "b.csv", OutputDescription: "d"},
			class: ErrConfiguration,
			phase: PhaseConfig,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.run.useErr == nil {
				tc.run.path = writeInput(t, tc.input)
			}
			_, err := New(Options{WorkDir: t.TempDir()}).Clean(context.Background(), tc.run, tc.cfg)
			if !errors.Is(err, tc.class) {
				t.Fatalf("Clean() err=%v, want %v", err, tc.class)
			}
			phase, ok := PhaseOf(err)
			if !ok || phase != tc.phase {
				t.Fatalf("phase=%q ok=%v, want %q", phase, ok, tc.phase)
			}
		})
	}
}

func TestClean_ErrorKeepsCause(t *testing.T) {
	run := &stubRun{useErr: tracking.ErrArtifactNotFound}
	_, err := New(Options{WorkDir: t.TempDir()}).Clean(context.Background(), run, testConfig(10, 100))
	if !errors.Is(err, tracking.ErrArtifactNotFound) {
		t.Fatalf("Clean() err=%v, want cause tracking.ErrArtifactNotFound", err)
	}
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Err != tracking.ErrArtifactNotFound {
		t.Fatalf("PhaseError=%+v", pe)
	}
}

func TestClean_RegistrationFailureLeavesOutput(t *testing.T) {
	workDir := t.TempDir()
	run := &stubRun{
		path:   writeInput(t, "price,last_review\n50,2019-01-01\n"),
		logErr: errors.New("connection refused"),
	}
	_, err := New(Options{WorkDir: workDir}).Clean(context.Background(), run, testConfig(10, 100))
	if !errors.Is(err, ErrRegistration) {
		t.Fatalf("Clean() err=%v, want ErrRegistration", err)
	}
	raw, err := os.ReadFile(filepath.Join(workDir, "clean_sample.csv"))
	if err != nil {
		t.Fatalf("output file missing after failed registration: %v", err)
	}
	if string(raw) != "price,last_review\n50,2019-01-01\n" {
		t.Fatalf("output=%q", raw)
	}
}
