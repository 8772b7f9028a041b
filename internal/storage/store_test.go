package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/slotwatch/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	clk := &testClock{now: t0}
	s.SetClock(clk.Now)
	return s, clk
}

func enqueue(t *testing.T, s *Store, clientID string) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), clientID, domain.VisaCheck, []byte("sealed-"+clientID))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func claim(t *testing.T, s *Store, now time.Time) *domain.Job {
	t.Helper()
	c, err := s.ClaimNext(context.Background(), now, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return c.Job
}

func TestEnqueueAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	id := enqueue(t, s, "client-1")

	j, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != domain.Queued || j.Kind != domain.VisaCheck || j.ClientID != "client-1" {
		t.Fatalf("unexpected job %+v", j)
	}
	if string(j.Payload) != "sealed-client-1" {
		t.Fatalf("payload = %q", j.Payload)
	}
	if !j.CreatedAt.Equal(t0) {
		t.Fatalf("created_at = %v, want %v", j.CreatedAt, t0)
	}
	if j.StartedAt != nil || j.FinishedAt != nil || j.LeaseExpiresAt != nil || j.Result != nil {
		t.Fatalf("fresh job has lifecycle fields set: %+v", j)
	}

	if _, err := s.GetJob(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("GetJob(missing) err = %v, want ErrNotFound", err)
	}
}

func TestClaimReturnsNoneWhenEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if j := claim(t, s, t0); j != nil {
		t.Fatalf("claim on empty ledger returned %+v", j)
	}
}

func TestClaimIsFIFO(t *testing.T) {
	s, clk := newTestStore(t)
	first := enqueue(t, s, "a")
	clk.Advance(time.Second)
	second := enqueue(t, s, "b")
	// same millisecond: ordering falls back to the time-ordered id
	third := enqueue(t, s, "c")

	for _, want := range []string{first, second, third} {
		j := claim(t, s, clk.Now())
		if j == nil || j.ID != want {
			t.Fatalf("claimed %+v, want %s", j, want)
		}
		if j.Status != domain.InProgress {
			t.Fatalf("claimed job status = %s", j.Status)
		}
		if j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Equal(clk.Now().Add(5*time.Minute)) {
			t.Fatalf("lease = %v", j.LeaseExpiresAt)
		}
	}
	if j := claim(t, s, clk.Now()); j != nil {
		t.Fatalf("expected no more work, got %s", j.ID)
	}
}

func TestLiveLeaseIsNotReclaimed(t *testing.T) {
	s, clk := newTestStore(t)
	enqueue(t, s, "a")
	if j := claim(t, s, clk.Now()); j == nil {
		t.Fatal("first claim returned nothing")
	}
	if j := claim(t, s, clk.Advance(4*time.Minute)); j != nil {
		t.Fatalf("job with a live lease was handed out again: %s", j.ID)
	}
}

func TestExpiredLeaseIsReclaimedWithOriginalStart(t *testing.T) {
	s, clk := newTestStore(t)
	id := enqueue(t, s, "a")

	first := claim(t, s, clk.Now())
	if first == nil || first.StartedAt == nil {
		t.Fatal("first claim did not start the job")
	}
	started := *first.StartedAt

	for i := 0; i < 3; i++ {
		now := clk.Advance(6 * time.Minute)
		c, err := s.ClaimNext(context.Background(), now, now.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if c.Job == nil || c.Job.ID != id {
			t.Fatalf("reclaim %d returned %+v", i, c.Job)
		}
		if c.Reclaimed != 1 {
			t.Fatalf("reclaimed = %d, want 1", c.Reclaimed)
		}
		if !c.Job.StartedAt.Equal(started) {
			t.Fatalf("started_at changed from %v to %v", started, c.Job.StartedAt)
		}
	}
}

func TestReclaimedJobSortsAheadOfNewerWork(t *testing.T) {
	s, clk := newTestStore(t)
	old := enqueue(t, s, "a")
	claim(t, s, clk.Now())
	clk.Advance(time.Minute)
	enqueue(t, s, "b")

	j := claim(t, s, clk.Advance(10*time.Minute))
	if j == nil || j.ID != old {
		t.Fatalf("expected reclaimed job %s first, got %+v", old, j)
	}
}

func TestReclaimExpired(t *testing.T) {
	s, clk := newTestStore(t)
	id := enqueue(t, s, "a")
	claim(t, s, clk.Now())

	n, err := s.ReclaimExpired(context.Background(), clk.Advance(time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("ReclaimExpired before expiry = %d, %v", n, err)
	}
	n, err = s.ReclaimExpired(context.Background(), clk.Advance(5*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReclaimExpired after expiry = %d, %v", n, err)
	}
	n, _ = s.ReclaimExpired(context.Background(), clk.Now())
	if n != 0 {
		t.Fatalf("second reclaim touched %d rows", n)
	}
	j, _ := s.GetJob(context.Background(), id)
	if j.Status != domain.Queued || j.LeaseExpiresAt != nil || j.StartedAt == nil {
		t.Fatalf("reclaimed job = %+v", j)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	s, clk := newTestStore(t)
	const jobs = 40
	for i := 0; i < jobs; i++ {
		enqueue(t, s, "c")
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for {
				now := clk.Now()
				c, err := s.ClaimNext(context.Background(), now, now.Add(5*time.Minute))
				if err != nil {
					return err
				}
				if c.Job == nil {
					return nil
				}
				mu.Lock()
				seen[c.Job.ID]++
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(seen) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestRecordTerminal(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	id := enqueue(t, s, "a")
	claim(t, s, clk.Now())
	clk.Advance(time.Minute)

	res := domain.ScanResult{
		Summary:  "found: Tijuana March 2025 (3, 4)",
		Details:  map[string]any{"stage": "aggregate"},
		Findings: []domain.Finding{{Location: "Tijuana", Month: "March 2025", Days: []string{"3", "4"}}},
	}
	prev, err := s.RecordTerminal(ctx, id, domain.Done, res)
	if err != nil {
		t.Fatalf("RecordTerminal: %v", err)
	}
	if prev != domain.InProgress {
		t.Fatalf("previous status = %s", prev)
	}
	j, _ := s.GetJob(ctx, id)
	if j.Status != domain.Done || j.LeaseExpiresAt != nil || j.FinishedAt == nil || !j.FinishedAt.Equal(clk.Now()) {
		t.Fatalf("terminal job = %+v", j)
	}
	if j.Result == nil || j.Result.Summary != res.Summary || len(j.Result.Findings) != 1 || j.Result.Details["stage"] != "aggregate" {
		t.Fatalf("result = %+v", j.Result)
	}

	prev, err = s.RecordTerminal(ctx, id, domain.Errored, domain.ScanResult{Summary: "second"})
	if err != nil || prev != domain.Done {
		t.Fatalf("overwrite: prev=%s err=%v", prev, err)
	}
	j, _ = s.GetJob(ctx, id)
	if j.Status != domain.Errored || j.Result.Summary != "second" {
		t.Fatalf("last write should win, got %+v", j)
	}

	if _, err := s.RecordTerminal(ctx, "missing", domain.Done, res); err != ErrNotFound {
		t.Fatalf("missing job err = %v", err)
	}
	if _, err := s.RecordTerminal(ctx, id, domain.Queued, res); err == nil {
		t.Fatal("non-terminal status accepted")
	}
}

func TestExtendLease(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	id := enqueue(t, s, "a")

	if ok, _ := s.ExtendLease(ctx, id, clk.Now().Add(time.Hour)); ok {
		t.Fatal("extended a queued job")
	}
	claim(t, s, clk.Now())
	until := clk.Now().Add(9 * time.Minute)
	if ok, err := s.ExtendLease(ctx, id, until); !ok || err != nil {
		t.Fatalf("ExtendLease = %v, %v", ok, err)
	}
	if j := claim(t, s, clk.Advance(6*time.Minute)); j != nil {
		t.Fatal("extended lease was reclaimed early")
	}
	j, _ := s.GetJob(ctx, id)
	if !j.LeaseExpiresAt.Equal(until) {
		t.Fatalf("lease = %v, want %v", j.LeaseExpiresAt, until)
	}
}

func TestListJobsByClientAndOpenJobs(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	a1 := enqueue(t, s, "a")
	clk.Advance(time.Second)
	a2 := enqueue(t, s, "a")
	enqueue(t, s, "b")

	jobs, err := s.ListJobsByClient(ctx, "a")
	if err != nil {
		t.Fatalf("ListJobsByClient: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != a2 || jobs[1].ID != a1 {
		t.Fatalf("jobs = %+v", jobs)
	}

	open, _ := s.HasOpenJob(ctx, "a")
	if !open {
		t.Fatal("client a should have open jobs")
	}
	for _, id := range []string{a1, a2} {
		if _, err := s.RecordTerminal(ctx, id, domain.Done, domain.ScanResult{Summary: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	open, _ = s.HasOpenJob(ctx, "a")
	if open {
		t.Fatal("client a has only terminal jobs")
	}
	if open, _ = s.HasOpenJob(ctx, "nobody"); open {
		t.Fatal("unknown client has open jobs")
	}
}

func TestRebind(t *testing.T) {
	got := Postgres.rebind(`update jobs set a = ?, b = ? where id = ?`)
	want := `update jobs set a = $1, b = $2 where id = $3`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if SQLite.rebind(`a = ?`) != `a = ?` {
		t.Fatal("sqlite queries must not be rewritten")
	}
}

func TestWithLeaderLockRunsOnSQLite(t *testing.T) {
	s, _ := newTestStore(t)
	ran := false
	ok, err := s.WithLeaderLock(context.Background(), 42, func(context.Context) error {
		ran = true
		return nil
	})
	if !ok || err != nil || !ran {
		t.Fatalf("WithLeaderLock = %v, %v (ran=%v)", ok, err, ran)
	}
}
