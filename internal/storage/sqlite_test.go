package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != 3 || len(v1) != len(v2) {
		t.Errorf("migrations %v then %v, want 3 both times", v1, v2)
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)
	for _, idx := range []string{"idx_paper_labels_project", "idx_predictions_relevant", "idx_jobs_status_run_after"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("query index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestCreateTwiceIsAlreadyPresent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	steps := []struct {
		name   string
		create func() error
	}{
		{"doi", func() error { return s.CreateDOI(ctx, "10.1000/a") }},
		{"project", func() error { return s.CreateProject(ctx, records.Project{Name: "neotoma"}) }},
		{"person", func() error { return s.CreatePerson(ctx, "https://orcid.org/0000-0002-1825-0097") }},
		{"label", func() error { return s.CreateLabel(ctx, records.Label{Label: "Neotoma", Project: "neotoma"}) }},
	}
	for _, st := range steps {
		if err := st.create(); err != nil {
			t.Fatalf("%s: first create: %v", st.name, err)
		}
		if err := st.create(); !errors.Is(err, registry.ErrAlreadyPresent) {
			t.Errorf("%s: second create err = %v, want ErrAlreadyPresent", st.name, err)
		}
	}

	ok, err := s.LabelExists(ctx, "Neotoma", "neotoma")
	if err != nil || !ok {
		t.Errorf("LabelExists = %v, %v", ok, err)
	}
	ok, err = s.LabelExists(ctx, "Neotoma", "other")
	if err != nil || ok {
		t.Errorf("LabelExists(other project) = %v, %v", ok, err)
	}
}

func TestRegisterDOIsAgainstStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateDOI(ctx, "10.1000/a")

	out := registry.RegisterDOIs(ctx, s, []string{"10.1000/a", "10.1000/b", "bogus"})
	if len(out.Inserted) != 1 || len(out.Present) != 1 {
		t.Errorf("outcome = %+v", out)
	}
	dois, err := s.DOIs(ctx)
	if err != nil || len(dois) != 2 {
		t.Errorf("DOIs = %v, %v", dois, err)
	}
}

func TestAddPaperLabelsAgainstStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := registry.EnsureProject(ctx, s, "neotoma", ""); err != nil {
		t.Fatal(err)
	}

	labels := []records.PaperLabel{
		{DOI: "10.1000/a", Label: "Neotoma", Person: "0000-0002-1825-0097"},
		{DOI: "10.1000/b", Label: "Not Neotoma", Person: "0000-0002-1825-0097"},
	}
	out, err := registry.AddPaperLabels(ctx, s, labels, "neotoma", true)
	if err != nil {
		t.Fatalf("AddPaperLabels: %v", err)
	}
	if len(out.Inserted) != 2 {
		t.Errorf("outcome = %+v", out)
	}
	out, err = registry.AddPaperLabels(ctx, s, labels, "neotoma", false)
	if err != nil {
		t.Fatalf("AddPaperLabels again: %v", err)
	}
	if len(out.Present) != 2 {
		t.Errorf("second outcome = %+v", out)
	}
	if ok, _ := s.DOIExists(ctx, "10.1000/b"); !ok {
		t.Error("paper label should register its DOI")
	}
}

func TestEmbeddingsAndModelData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Embedding(ctx, "10.1000/a", "m")
	if err != nil || e != nil {
		t.Fatalf("Embedding(absent) = %v, %v", e, err)
	}

	for _, doi := range []string{"10.1000/a", "10.1000/b"} {
		if err := s.CreateEmbedding(ctx, records.Embedding{DOI: doi, Model: "m", Embeddings: []float32{0.25, -1}}); err != nil {
			t.Fatalf("CreateEmbedding: %v", err)
		}
	}
	e, err = s.Embedding(ctx, "10.1000/a", "m")
	if err != nil || e == nil || e.Embeddings[0] != 0.25 {
		t.Fatalf("Embedding = %+v, %v", e, err)
	}

	s.CreatePaperLabel(ctx, records.PaperLabel{DOI: "10.1000/a", Label: "Neotoma", Project: "neotoma", Person: "p"})
	s.CreatePaperLabel(ctx, records.PaperLabel{DOI: "10.1000/c", Label: "Neotoma", Project: "neotoma", Person: "p"})

	rows, err := s.ModelData(ctx, "m", "neotoma")
	if err != nil {
		t.Fatalf("ModelData: %v", err)
	}
	if len(rows) != 1 || rows[0].DOI != "10.1000/a" || len(rows[0].Embeddings) != 2 {
		t.Errorf("ModelData = %+v", rows)
	}

	all, err := s.Embeddings(ctx, "m")
	if err != nil || len(all) != 2 {
		t.Errorf("Embeddings = %d, %v", len(all), err)
	}
}

func TestPublications(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Publication(ctx, "10.1000/a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	pub := records.Publication{
		DOI:      "10.1000/a",
		Title:    "Pollen",
		Authors:  []records.Author{{Given: "Ada", Family: "Lovelace"}},
		Subjects: []string{"Ecology"},
		Valid:    true,
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SavePublication(ctx, pub); err != nil {
		t.Fatalf("SavePublication: %v", err)
	}
	pub.Title = "Pollen, revised"
	if err := s.SavePublication(ctx, pub); err != nil {
		t.Fatalf("SavePublication update: %v", err)
	}
	s.SavePublication(ctx, records.Publication{DOI: "10.1000/b"})

	got, err := s.Publication(ctx, "10.1000/a")
	if err != nil {
		t.Fatalf("Publication: %v", err)
	}
	if got.Title != "Pollen, revised" || got.Authors[0].Family != "Lovelace" || got.Subjects[0] != "Ecology" || !got.Date.Equal(pub.Date) {
		t.Errorf("round trip = %+v", got)
	}

	valid, _ := s.Publications(ctx, true)
	all, _ := s.Publications(ctx, false)
	if len(valid) != 1 || len(all) != 2 {
		t.Errorf("valid/all = %d/%d, want 1/2", len(valid), len(all))
	}

	s.CreateEmbedding(ctx, records.Embedding{DOI: "10.1000/a", Model: "m", Embeddings: []float32{1}})
	todo, err := s.PublicationsToEmbed(ctx, "m")
	if err != nil || len(todo) != 1 || todo[0].DOI != "10.1000/b" {
		t.Errorf("PublicationsToEmbed = %+v, %v", todo, err)
	}
}

func TestPredictions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.SavePublication(ctx, records.Publication{DOI: "10.1000/a", Valid: true})
	s.SavePublication(ctx, records.Publication{DOI: "10.1000/b", Valid: true})

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	err := s.SavePredictions(ctx, []records.Prediction{
		{DOI: "10.1000/a", Probability: 0.9, Prediction: 1, Model: "m", Date: day1},
		{DOI: "10.1000/b", Probability: 0.8, Prediction: 1, Model: "m", Date: day1},
		{DOI: "10.1000/b", Probability: 0.1, Prediction: 0, Model: "m", Date: day2},
	})
	if err != nil {
		t.Fatalf("SavePredictions: %v", err)
	}

	rel, err := s.RelevantPublications(ctx)
	if err != nil {
		t.Fatalf("RelevantPublications: %v", err)
	}
	if len(rel) != 1 || rel[0].DOI != "10.1000/a" {
		t.Errorf("relevant = %+v", rel)
	}

	p, err := s.LatestPrediction(ctx, "10.1000/b")
	if err != nil || p.Prediction != 0 || !p.Date.Equal(day2) {
		t.Errorf("LatestPrediction = %+v, %v", p, err)
	}
	if _, err := s.LatestPrediction(ctx, "10.1000/z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestArticles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	arts := []records.Article{
		{GDDID: "g1", DOI: "10.1000/a", Status: "queried"},
		{GDDID: "g2", DOI: "Non-DOI Article ID type", Status: "queried"},
	}
	n, err := s.SaveArticles(ctx, arts)
	if err != nil || n != 2 {
		t.Fatalf("SaveArticles = %d, %v", n, err)
	}
	n, err = s.SaveArticles(ctx, arts[:1])
	if err != nil || n != 0 {
		t.Errorf("SaveArticles again = %d, %v", n, err)
	}
	known, err := s.KnownArticles(ctx)
	if err != nil || !known["g1"] || !known["g2"] {
		t.Errorf("KnownArticles = %v, %v", known, err)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j-claim-1", Type: JobHarvestDOI, PayloadJSON: `{"doi":"10.1000/a"}`}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob duplicate: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{JobHarvestDOI})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("claimed %+v", got)
	}
	if got.PayloadJSON != `{"doi":"10.1000/a"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}

	again, err := s.ClaimNextJob(ctx, []string{JobHarvestDOI})
	if err != nil || again != nil {
		t.Errorf("duplicate enqueue produced a second job: %+v, %v", again, err)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j-future", Type: JobEmbedDOI, PayloadJSON: `{}`, RunAfter: time.Now().UTC().Add(time.Hour)}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got, err := s.ClaimNextJob(ctx, []string{JobEmbedDOI})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.EnqueueJob(ctx, Job{ID: "j-a", Type: JobHarvestDOI, PayloadJSON: `{}`})
	s.EnqueueJob(ctx, Job{ID: "j-b", Type: JobEmbedDOI, PayloadJSON: `{}`})

	got, err := s.ClaimNextJob(ctx, []string{JobEmbedDOI})
	if err != nil || got == nil {
		t.Fatalf("ClaimNextJob = %v, %v", got, err)
	}
	if got.Type != JobEmbedDOI {
		t.Errorf("Type = %q", got.Type)
	}
}

func TestFailJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.EnqueueJob(ctx, Job{ID: "j-fail", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2})
	s.ClaimNextJob(ctx, []string{"x"})

	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j-fail", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	var status, lastError, runAfterStr string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error, run_after FROM jobs WHERE id = 'j-fail'`).Scan(&status, &attempts, &lastError, &runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "something broke" {
		t.Errorf("after first failure: %s/%d/%q", status, attempts, lastError)
	}
	runAfter, _ := time.Parse(time.RFC3339, runAfterStr)
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}

	if err := s.FailJob(ctx, "j-fail", "again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	counts, err := s.CountJobs(ctx)
	if err != nil || counts["failed"] != 1 {
		t.Errorf("counts = %v, %v", counts, err)
	}

	if err := s.FailJob(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
