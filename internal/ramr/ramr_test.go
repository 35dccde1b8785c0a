package ramr

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T, defaultTTL time.Duration) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ramr.db")
	db, err := Open(path, defaultTTL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTTLFormula(t *testing.T) {
	base := time.Hour
	cases := []struct {
		priority  float64
		cacheType string
		want      time.Duration
	}{
		{priority: 5, cacheType: "", want: base},                                 // mult=1, factor=1
		{priority: 0, cacheType: "", want: time.Duration(float64(base) * 0.5)},    // mult floor 0.5
		{priority: 10, cacheType: "knowledge", want: time.Duration(float64(base) * 2 * 2.5)},
		{priority: 5, cacheType: "temporary", want: time.Duration(float64(base) * 0.25)},
		{priority: 5, cacheType: "unknown_type", want: base}, // default factor 1.0
	}
	for _, c := range cases {
		got := TTL(base, c.priority, c.cacheType)
		if got != c.want {
			t.Errorf("TTL(%v, %v, %q) = %v, want %v", base, c.priority, c.cacheType, got, c.want)
		}
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	db := openTestDB(t, time.Hour)
	if err := db.Set("k1", []byte("payload"), SetOptions{PriorityScore: 3, CacheType: "solution", Tags: []string{"a", "b"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entry, promote, found, err := db.Get("k1")
	if err != nil || !found {
		t.Fatalf("Get: entry=%+v found=%v err=%v", entry, found, err)
	}
	if string(entry.Data) != "payload" {
		t.Errorf("Data = %q, want payload", entry.Data)
	}
	if promote {
		t.Error("priority 3 should not cross PromotionThreshold")
	}
	if entry.AccessCount != 0 {
		t.Errorf("AccessCount before Get read-back should be 0, got %d (stale row)", entry.AccessCount)
	}

	// second Get should observe the bumped access count from the first.
	entry2, _, found2, err := db.Get("k1")
	if err != nil || !found2 {
		t.Fatalf("second Get failed: %v %v", found2, err)
	}
	if entry2.AccessCount != 1 {
		t.Errorf("AccessCount after one prior Get = %d, want 1", entry2.AccessCount)
	}
}

func TestGetPromotesAbovePriorityThreshold(t *testing.T) {
	db := openTestDB(t, time.Hour)
	db.Set("hot", []byte("v"), SetOptions{PriorityScore: 8})
	_, promote, found, err := db.Get("hot")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !promote {
		t.Error("priority 8 > threshold 7.0 should signal promotion")
	}
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t, time.Hour)
	_, promote, found, err := db.Get("nope")
	if err != nil || found || promote {
		t.Errorf("Get(missing) = found=%v promote=%v err=%v, want false,false,nil", found, promote, err)
	}
}

func TestGetExpiredEntryNotReturned(t *testing.T) {
	db := openTestDB(t, 5*time.Millisecond)
	db.Set("short", []byte("v"), SetOptions{PriorityScore: 0})
	time.Sleep(20 * time.Millisecond)
	_, _, found, err := db.Get("short")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expired entry should not be returned")
	}
}

func TestExpireOldRemovesExpiredRows(t *testing.T) {
	db := openTestDB(t, 5*time.Millisecond)
	db.Set("short", []byte("v"), SetOptions{PriorityScore: 0})
	time.Sleep(20 * time.Millisecond)

	n, err := db.ExpireOld()
	if err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireOld removed %d, want 1", n)
	}
	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Count after expiry = %d, want 0", count)
	}
}

func TestGetRelevantContextOrdersByPriority(t *testing.T) {
	db := openTestDB(t, time.Hour)
	db.Set("low", []byte("v1"), SetOptions{Metadata: `{"note":"about apples"}`, PriorityScore: 1})
	db.Set("high", []byte("v2"), SetOptions{Metadata: `{"note":"about apples too"}`, PriorityScore: 9})

	results, err := db.GetRelevantContext("apples", 10)
	if err != nil {
		t.Fatalf("GetRelevantContext: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Key != "high" {
		t.Errorf("expected highest-priority entry first, got %q", results[0].Key)
	}
}
