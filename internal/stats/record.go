package stats

// EntityRef identifies the raw entity a sample was converted from.
type EntityRef struct {
	Path   string
	Node   string
	Entity string
}

// Sample is one value of a metric family with its label set.
type Sample struct {
	Value  float64
	Labels Labels
	Source EntityRef
}

// Origin records where a metric family was read from.
type Origin struct {
	Path  string
	Nodes []string
}

func (o *Origin) addNode(node string) {
	for _, n := range o.Nodes {
		if n == node {
			return
		}
	}
	o.Nodes = append(o.Nodes, node)
}

// Record is one metric family accumulated over a collection pass.
type Record struct {
	Name   string
	Help   string
	Origin Origin
	Values []Sample
}

// Accumulator collects Records for a single collection pass. Records are
// created on first write and kept in creation order. It is not safe for
// concurrent use; every host pass owns its own Accumulator.
type Accumulator struct {
	records map[string]*Record
	order   []string
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{records: make(map[string]*Record)}
}

func (a *Accumulator) init(name string) *Record {
	if r, ok := a.records[name]; ok {
		return r
	}
	r := &Record{Name: name}
	a.records[name] = r
	a.order = append(a.order, name)
	return r
}

// Add records value under name. Negative values are dropped: they mark
// fields that are absent on the host.
func (a *Accumulator) Add(name string, value float64, labels Labels, src EntityRef) {
	if value < 0 {
		return
	}
	r := a.init(name)
	r.Values = append(r.Values, Sample{Value: value, Labels: labels.Clone(), Source: src})
}

// Describe sets the help text of name if none is set yet and adds node to
// its provenance.
func (a *Accumulator) Describe(name, help, path, node string) {
	r := a.init(name)
	if r.Help == "" {
		r.Help = help
	}
	if r.Origin.Path == "" {
		r.Origin.Path = path
	}
	r.Origin.addNode(node)
}

// Get returns the record for name.
func (a *Accumulator) Get(name string) (*Record, bool) {
	r, ok := a.records[name]
	return r, ok
}

// Records returns all records in creation order.
func (a *Accumulator) Records() []*Record {
	if a == nil {
		return nil
	}
	out := make([]*Record, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.records[name])
	}
	return out
}

// Len returns the number of metric families.
func (a *Accumulator) Len() int {
	if a == nil {
		return 0
	}
	return len(a.order)
}

// Commit appends the content of a successful batch.
func (a *Accumulator) Commit(b *Batch) {
	for _, h := range b.helps {
		a.Describe(h.name, h.help, b.ref.Path, b.ref.Node)
	}
	for _, s := range b.samples {
		a.Add(s.name, s.value, s.labels, b.ref)
	}
}

type batchHelp struct {
	name string
	help string
}

type batchSample struct {
	name   string
	value  float64
	labels Labels
}

// Batch buffers what a converter emits for one entity. The engine commits
// it to the Accumulator only if the converter returns no error.
type Batch struct {
	ref     EntityRef
	helps   []batchHelp
	samples []batchSample
}

// NewBatch returns an empty batch for one raw entity.
func NewBatch(path, node, entity string) *Batch {
	return &Batch{ref: EntityRef{Path: path, Node: node, Entity: entity}}
}

// Help registers the description of a metric family.
func (b *Batch) Help(name, help string) {
	b.helps = append(b.helps, batchHelp{name: name, help: help})
}

// Add emits one sample. Negative values are a silent no-op.
func (b *Batch) Add(name string, value float64, labels Labels) {
	if value < 0 {
		return
	}
	b.samples = append(b.samples, batchSample{name: name, value: value, labels: labels.Clone()})
}

// Len returns the number of buffered samples.
func (b *Batch) Len() int {
	return len(b.samples)
}
