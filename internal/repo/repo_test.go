package repo_test

import (
	"context"
	"errors"
	"testing"

	"rootra/internal/db"
	"rootra/internal/domain"
	"rootra/internal/repo"
)

func newTestRepo(t *testing.T) (context.Context, repo.Repo) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return ctx, repo.New(conn)
}

func insertBatch(t *testing.T, ctx context.Context, r repo.Repo, id string, stage domain.Stage) {
	t.Helper()
	err := r.InsertBatch(ctx, nil, domain.Batch{
		ID:              id,
		HerbName:        "Turmeric",
		QuantityKg:      50,
		FarmerID:        "F001",
		CurrentHolderID: "F001",
		CurrentStage:    stage,
		CreatedAt:       "2026-03-01T12:00:00Z",
		UpdatedAt:       "2026-03-01T12:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBatchNotFound(t *testing.T) {
	ctx, r := newTestRepo(t)
	if _, err := r.GetBatch(ctx, "HB-NOPE999"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdvanceBatchCAS(t *testing.T) {
	ctx, r := newTestRepo(t)
	insertBatch(t, ctx, r, "HB-TUR001", domain.StageUploaded)

	ok, err := r.AdvanceBatch(ctx, nil, "HB-TUR001", domain.StageUploaded, domain.StageCollected, "A001", "2026-03-02T09:00:00Z")
	if err != nil || !ok {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}

	// Same swap again loses.
	ok, err = r.AdvanceBatch(ctx, nil, "HB-TUR001", domain.StageUploaded, domain.StageCollected, "A002", "2026-03-02T09:00:01Z")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("stale swap succeeded")
	}

	b, err := r.GetBatch(ctx, "HB-TUR001")
	if err != nil {
		t.Fatal(err)
	}
	if b.CurrentStage != domain.StageCollected || b.CurrentHolderID != "A001" || b.Version != 1 {
		t.Fatalf("batch = %+v", b)
	}
}

func TestAdvanceBatchBlockedByFlag(t *testing.T) {
	ctx, r := newTestRepo(t)
	insertBatch(t, ctx, r, "HB-TUR001", domain.StageUploaded)
	if err := r.SetBatchFlag(ctx, nil, "HB-TUR001", true, "weight discrepancy", "2026-03-02T09:00:00Z"); err != nil {
		t.Fatal(err)
	}
	ok, err := r.AdvanceBatch(ctx, nil, "HB-TUR001", domain.StageUploaded, domain.StageCollected, "A001", "2026-03-02T09:00:01Z")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("flagged batch advanced")
	}
}

func TestListBatchesFilters(t *testing.T) {
	ctx, r := newTestRepo(t)
	insertBatch(t, ctx, r, "HB-TUR001", domain.StageUploaded)
	insertBatch(t, ctx, r, "HB-TUR002", domain.StageCollected)
	if err := r.SetBatchFlag(ctx, nil, "HB-TUR002", true, "spot check", "2026-03-02T09:00:00Z"); err != nil {
		t.Fatal(err)
	}

	byStage, err := r.ListBatches(ctx, repo.BatchFilter{Stage: domain.StageCollected})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStage) != 1 || byStage[0].ID != "HB-TUR002" {
		t.Fatalf("stage filter = %+v", byStage)
	}

	flagged := true
	byFlag, err := r.ListBatches(ctx, repo.BatchFilter{Flagged: &flagged})
	if err != nil {
		t.Fatal(err)
	}
	if len(byFlag) != 1 || byFlag[0].ID != "HB-TUR002" {
		t.Fatalf("flag filter = %+v", byFlag)
	}

	byHerb, err := r.ListBatches(ctx, repo.BatchFilter{HerbName: "turmeric"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byHerb) != 2 {
		t.Fatalf("herb filter matched %d", len(byHerb))
	}
}

func TestTailTransactions(t *testing.T) {
	ctx, r := newTestRepo(t)
	insertBatch(t, ctx, r, "HB-TUR001", domain.StageUploaded)
	events := []domain.TransactionEvent{
		{EventID: "e1", BatchID: "HB-TUR001", ToHolderID: "F001", Transition: domain.TransitionCreate, ToStage: domain.StageUploaded, Timestamp: "2026-03-01T12:00:00Z"},
		{EventID: "e2", BatchID: "HB-TUR001", FromHolderID: "F001", ToHolderID: "A001", Transition: domain.TransitionCollect, FromStage: domain.StageUploaded, ToStage: domain.StageCollected, Timestamp: "2026-03-02T09:00:00Z"},
		{EventID: "e3", BatchID: "HB-TUR001", ToHolderID: "A001", Transition: domain.TransitionFlag, Timestamp: "2026-03-02T10:00:00Z"},
	}
	for _, e := range events {
		if _, err := r.AppendTransaction(ctx, nil, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := r.TailTransactions(ctx, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("tail all = %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatalf("sequence not monotonic: %d then %d", all[i-1].Seq, all[i].Seq)
		}
	}

	after, err := r.TailTransactions(ctx, all[0].Seq, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].EventID != "e2" {
		t.Fatalf("tail after first = %+v", after)
	}

	collects, err := r.TailTransactions(ctx, 0, 0, []string{string(domain.TransitionCollect)})
	if err != nil {
		t.Fatal(err)
	}
	if len(collects) != 1 || collects[0].EventID != "e2" {
		t.Fatalf("transition filter = %+v", collects)
	}
}

func TestCertificateUpsert(t *testing.T) {
	ctx, r := newTestRepo(t)
	insertBatch(t, ctx, r, "HB-TUR001", domain.StageProcessingPackaging)

	first := domain.QualityCertificate{
		ID:        "QC-HB-TUR001",
		BatchID:   "HB-TUR001",
		IssuedBy:  "P001",
		IssuedAt:  "2026-03-01T00:00:00Z",
		ExpiresAt: "2026-03-10T00:00:00Z",
	}
	if err := r.UpsertCertificate(ctx, nil, first); err != nil {
		t.Fatal(err)
	}

	reissued := first
	reissued.ExpiresAt = "2026-04-10T00:00:00Z"
	if err := r.UpsertCertificate(ctx, nil, reissued); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetCertificate(ctx, "HB-TUR001")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExpiresAt != "2026-04-10T00:00:00Z" {
		t.Fatalf("expires_at = %s after re-issue", got.ExpiresAt)
	}
}

func TestAPIKeyLookup(t *testing.T) {
	ctx, r := newTestRepo(t)
	if err := r.InsertActor(ctx, nil, domain.Actor{ID: "ADM1", Role: domain.RoleAdmin, CreatedAt: "2026-03-01T12:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	secret := "rk-test-secret"
	key := domain.APIKey{
		ID:        "k1",
		ActorID:   "ADM1",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: "2026-03-01T12:00:00Z",
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("  rk-test-secret  "))
	if err != nil {
		t.Fatal(err)
	}
	if got.ActorID != "ADM1" {
		t.Fatalf("actor = %s", got.ActorID)
	}

	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("rk-wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err after delete = %v, want ErrNotFound", err)
	}
}

func TestServiceConfigSeedAndUpdate(t *testing.T) {
	ctx, r := newTestRepo(t)
	if _, err := r.GetServiceConfig(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("fresh store err = %v, want ErrNotFound", err)
	}

	doc := "service:\n  name: rootra\nbatches:\n  id_prefix: XX\n"
	if err := r.UpsertServiceConfig(ctx, nil, doc); err != nil {
		t.Fatal(err)
	}
	cfg, err := r.GetServiceConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batches.IDPrefix != "XX" {
		t.Fatalf("id prefix = %s", cfg.Batches.IDPrefix)
	}

	if err := r.UpsertServiceConfig(ctx, nil, "service:\n  name: \"\"\n"); err == nil {
		t.Fatal("invalid config accepted")
	}
}
