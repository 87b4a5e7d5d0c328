package handlers

import (
	"context"

	"github.com/iamqiss/Pixelle-sub004/internal/confservice"
	"github.com/iamqiss/Pixelle-sub004/internal/epoch"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/watermark"
)

// fakeService is a canned TopologyService for handler tests
type fakeService struct {
	lifecycle    confservice.Lifecycle
	min          uint64
	max          uint64
	mappingEpoch uint64
	views        map[uint64]epoch.View
	topologies   map[uint64]topology.Topology
}

func newFakeService() *fakeService {
	return &fakeService{
		lifecycle:  confservice.Started,
		views:      make(map[uint64]epoch.View),
		topologies: make(map[uint64]topology.Topology),
	}
}

func (f *fakeService) Lifecycle() confservice.Lifecycle { return f.lifecycle }
func (f *fakeService) MinEpoch() uint64                 { return f.min }
func (f *fakeService) MaxEpoch() uint64                 { return f.max }
func (f *fakeService) MappingEpoch() uint64             { return f.mappingEpoch }

func (f *fakeService) EpochSnapshot(e uint64) (epoch.View, bool) {
	v, ok := f.views[e]
	return v, ok
}

func (f *fakeService) TopologyAt(e uint64) *topology.Topology {
	t, ok := f.topologies[e]
	if !ok {
		return nil
	}
	return &t
}

// newTestHandler wires a handler around canned dependencies
func newTestHandler(svc *fakeService) (*Handler, *watermark.Collector) {
	logger := logging.NewDevelopment()
	collector := watermark.NewCollector(logger)
	catchup := func(ctx context.Context) (int, error) { return 0, nil }
	return New(logger, 1, svc, collector, catchup), collector
}
