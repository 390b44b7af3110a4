package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/measure"
)

func ms(name string, d time.Duration, ok bool) measure.Measurement {
	return measure.Measurement{
		Scenario:   name,
		StartedAt:  time.Now(),
		DurationMs: float64(d) / float64(time.Millisecond),
		Success:    ok,
	}
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != measure.PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, measure.PhaseInit)
	}
}

func TestEngine_Record(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.Record(ms("checkout", 10*time.Millisecond, true))
	engine.Record(ms("checkout", 20*time.Millisecond, true))
	engine.Record(ms("checkout", 30*time.Millisecond, false))

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.Latency.Count != 2 {
		t.Errorf("Latency.Count = %d, want 2 (failures excluded)", snapshot.Latency.Count)
	}

	perScenario := engine.ScenarioStats()
	if perScenario["checkout"].Count != 2 {
		t.Errorf("checkout count = %d, want 2", perScenario["checkout"].Count)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 10; i++ {
		engine.Record(ms("", time.Duration(i*10)*time.Millisecond, true))
	}

	p := engine.LatencyPercentiles()

	if p.P50 < 40*time.Millisecond || p.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", p.P50)
	}
	if p.P99 < 90*time.Millisecond || p.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", p.P99)
	}
	if p.Min < 9*time.Millisecond || p.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", p.Min)
	}
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	phases := []measure.Phase{
		measure.PhaseWarmup, measure.PhaseRampUp, measure.PhaseSustain,
		measure.PhaseRampDown, measure.PhaseDone,
	}
	for _, phase := range phases {
		engine.SetPhase(phase)
		engine.SetPhase(phase)
		if engine.Phase() != phase {
			t.Errorf("After SetPhase(%v), Phase() = %v", phase, engine.Phase())
		}
	}

	if got := len(engine.PhaseHistory()); got != len(phases) {
		t.Errorf("PhaseHistory length = %d, want %d", got, len(phases))
	}
}

func TestEngine_Buckets(t *testing.T) {
	engine := NewEngineWithConfig(EngineConfig{BucketInterval: 20 * time.Millisecond, MaxBuckets: 100})

	engine.SetPhase(measure.PhaseSustain)
	engine.SetActiveUsers(4)
	engine.Record(ms("a", 5*time.Millisecond, true))

	time.Sleep(70 * time.Millisecond)
	engine.Stop()
	engine.Stop()

	series := engine.TimeSeries()
	if len(series) < 2 {
		t.Fatalf("TimeSeries length = %d, want >= 2", len(series))
	}
	last := engine.LatestBucket()
	if last.ActiveUsers != 4 {
		t.Errorf("ActiveUsers = %d, want 4", last.ActiveUsers)
	}
	if last.Phase != measure.PhaseSustain {
		t.Errorf("Phase = %v, want sustain", last.Phase)
	}
	if last.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", last.TotalRequests)
	}
}

func TestEngine_ConcurrentRecord(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				engine.Record(ms("s", time.Millisecond, i%10 != 0))
			}
		}()
	}
	wg.Wait()

	snap := engine.Snapshot()
	if snap.TotalRequests != 10000 {
		t.Errorf("TotalRequests = %d, want 10000", snap.TotalRequests)
	}
	if snap.FailedRequests != 1000 {
		t.Errorf("FailedRequests = %d, want 1000", snap.FailedRequests)
	}
}

func TestTimeBucketStore_RingBuffer(t *testing.T) {
	store := NewTimeBucketStore(3)
	for i := 0; i < 5; i++ {
		store.RecordRequest(true)
		store.CreateBucket(int64(i), int64(i), 0, LatencyPercentiles{}, i, measure.PhaseRampUp)
	}

	buckets := store.GetBuckets()
	if len(buckets) != 3 {
		t.Fatalf("len = %d, want 3", len(buckets))
	}
	for i, b := range buckets {
		if b.ActiveUsers != i+2 {
			t.Errorf("bucket %d ActiveUsers = %d, want %d", i, b.ActiveUsers, i+2)
		}
	}
	if store.Latest().ActiveUsers != 4 {
		t.Errorf("Latest ActiveUsers = %d, want 4", store.Latest().ActiveUsers)
	}

	store.Reset()
	if store.Latest() != nil {
		t.Error("Latest after Reset should be nil")
	}
}
