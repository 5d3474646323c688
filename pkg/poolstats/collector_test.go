package poolstats

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStater struct {
	stats Stat
}

func (m *mockStater) Stat() Stat {
	return m.stats
}

var _ Stat = (*statMock)(nil)

type statMock struct {
	active    int64
	queued    int64
	capacity  int64
	completed int64
	rejected  int64
}

func (m *statMock) Active() int64    { return m.active }
func (m *statMock) Queued() int64    { return m.queued }
func (m *statMock) Capacity() int64  { return m.capacity }
func (m *statMock) Completed() int64 { return m.completed }
func (m *statMock) Rejected() int64  { return m.rejected }

func TestDescribe(t *testing.T) {
	const expectedDescriptorCount = 5
	stater := &mockStater{&statMock{}}
	statFn := func() Stat { return stater.Stat() }
	testObject := newCollector(statFn, t.Name())

	ch := make(chan *prometheus.Desc, expectedDescriptorCount)
	testObject.Describe(ch)
	close(ch)

	uniqueDescriptors := make(map[string]struct{})
	for desc := range ch {
		uniqueDescriptors[desc.String()] = struct{}{}
	}
	if len(uniqueDescriptors) != expectedDescriptorCount {
		t.Errorf("expected %d descriptors, got %d", expectedDescriptorCount, len(uniqueDescriptors))
	}
}

func TestCollect(t *testing.T) {
	mockStats := &statMock{
		active:    3,
		queued:    2,
		capacity:  10,
		completed: 42,
		rejected:  1,
	}
	stater := &mockStater{mockStats}
	statFn := func() Stat { return stater.Stat() }
	testObject := newCollector(statFn, t.Name())

	want := strings.NewReader(`# HELP linglong_pool_active Number of units of work currently running in the pool.
# TYPE linglong_pool_active gauge
linglong_pool_active{pool="TestCollect"} 3
# HELP linglong_pool_capacity Configured concurrency limit of the pool.
# TYPE linglong_pool_capacity gauge
linglong_pool_capacity{pool="TestCollect"} 10
# HELP linglong_pool_completed_total Cumulative count of units of work that have finished.
# TYPE linglong_pool_completed_total counter
linglong_pool_completed_total{pool="TestCollect"} 42
# HELP linglong_pool_queued Number of units of work waiting for a free slot in the pool.
# TYPE linglong_pool_queued gauge
linglong_pool_queued{pool="TestCollect"} 2
# HELP linglong_pool_rejected_total Cumulative count of units of work turned away by the pool.
# TYPE linglong_pool_rejected_total counter
linglong_pool_rejected_total{pool="TestCollect"} 1
`)

	ls, err := testutil.CollectAndLint(testObject)
	if err != nil {
		t.Error(err)
	}
	for _, l := range ls {
		t.Log(l)
	}
	if err := testutil.CollectAndCompare(testObject, want); err != nil {
		t.Error(err)
	}
}
