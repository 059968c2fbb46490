package collector

import "github.com/hostwatch/hostwatch/model"

// Collector fills one section of a MetricSnapshot.
type Collector interface {
	Name() string
	Collect(snap *model.MetricSnapshot) error
}

// Registry holds all registered collectors.
type Registry struct {
	collectors []Collector
}

// NewRegistry creates a registry with the default collectors.
func NewRegistry() *Registry {
	return &Registry{
		collectors: []Collector{
			NewCPUCollector(),
			&MemoryCollector{},
			&DiskCollector{},
			&NetworkCollector{},
		},
	}
}

// Add registers an additional collector.
func (r *Registry) Add(c Collector) {
	r.collectors = append(r.collectors, c)
}

// CollectAll runs every collector against the snapshot. A failing collector
// leaves its section zero-valued; its error is returned alongside the others
// so the caller can log the gap without aborting the snapshot.
func (r *Registry) CollectAll(snap *model.MetricSnapshot) []error {
	var errs []error
	for _, c := range r.collectors {
		if err := c.Collect(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
