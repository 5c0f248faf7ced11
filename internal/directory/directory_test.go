package directory

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/resource"
	"github.com/ai402/gateway/internal/store"
)

func openTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := store.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, zap.NewNop())
}

func sampleResource(id string) *resource.Resource {
	return &resource.Resource{
		ID:            id,
		Name:          "Weather Tools",
		Kind:          resource.KindToolServer,
		OriginAddress: "https://tools.example.com/mcp",
		PayoutAddress: "0x8D170Db9aB247E7013d024566093E13dc7b0f181",
		Pricing: resource.Pricing{
			Model:         resource.PricePerCall,
			DefaultAmount: "0.001",
			Currency:      "USDC",
		},
		Active: true,
	}
}

func TestPutAndFind(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	if err := dir.Put(sampleResource("res-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := dir.Find("res-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Name != "Weather Tools" || got.Kind != resource.KindToolServer {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestFindMissing(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	if _, err := dir.Find("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	bad := sampleResource("res-1")
	bad.Pricing.DefaultAmount = "99"
	if err := dir.Put(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := dir.Find("res-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid resource must not be stored")
	}
}

func TestListOrdered(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	for _, id := range []string{"res-c", "res-a", "res-b"} {
		if err := dir.Put(sampleResource(id)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	all, err := dir.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(all))
	}
	for i, want := range []string{"res-a", "res-b", "res-c"} {
		if all[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, all[i].ID)
		}
	}
}

func TestSeedPreservesStats(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	existing := sampleResource("res-1")
	existing.Stats = resource.Stats{TotalUses: 7, TotalEarnings: "0.007"}
	if err := dir.Put(existing); err != nil {
		t.Fatalf("Put: %v", err)
	}

	seeds := []*resource.Resource{sampleResource("res-1"), sampleResource("res-2")}
	raw, err := json.Marshal(seeds)
	if err != nil {
		t.Fatalf("marshal seeds: %v", err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := dir.Seed(path)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 seeded, got %d", n)
	}

	got, err := dir.Find("res-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Stats.TotalUses != 7 {
		t.Fatalf("seeding must not reset stats, got %+v", got.Stats)
	}
}

func TestApplyStats(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	if err := dir.Put(sampleResource("res-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now := time.Now().UTC()
	err := dir.ApplyStats("res-1", resource.StatsDelta{
		Uses:         1,
		Earnings:     decimal.RequireFromString("0.001"),
		InputTokens:  12,
		OutputTokens: 30,
		UsedAt:       now,
	})
	if err != nil {
		t.Fatalf("ApplyStats: %v", err)
	}

	got, err := dir.Find("res-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Stats.TotalUses != 1 || got.Stats.TotalEarnings != "0.001" {
		t.Fatalf("unexpected stats %+v", got.Stats)
	}
	if got.Stats.TotalTokens != 42 {
		t.Fatalf("token totals not folded: %+v", got.Stats)
	}
	if got.Stats.LastUsed == nil || !got.Stats.LastUsed.Equal(now) {
		t.Fatalf("last used not recorded: %+v", got.Stats.LastUsed)
	}
}

func TestApplyStatsMissingResource(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	err := dir.ApplyStats("nope", resource.StatsDelta{Uses: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyStatsConcurrent(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)
	if err := dir.Put(sampleResource("res-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- dir.ApplyStats("res-1", resource.StatsDelta{
				Uses:     1,
				Earnings: decimal.RequireFromString("0.001"),
				UsedAt:   time.Now().UTC(),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ApplyStats: %v", err)
		}
	}

	got, err := dir.Find("res-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Stats.TotalUses != workers {
		t.Fatalf("expected %d uses, got %d", workers, got.Stats.TotalUses)
	}
	if got.Stats.TotalEarnings != "0.008" {
		t.Fatalf("expected earnings 0.008, got %s", got.Stats.TotalEarnings)
	}
}
