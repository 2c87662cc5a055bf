package tensor

// Module is the capability every user-defined model building block
// implements, per spec.md §9's "Module trait polymorphism" design note:
// a single forward(input) -> output method over the GraphTensor builder
// API. Constructors (see internal/nn) take a *Graph reference and
// return a value owning the node ids of its own parameters.
type Module interface {
	Forward(input *GraphTensor) (*GraphTensor, error)
}

// InitModule is implemented by modules whose parameter leaves must be
// populated with concrete data before the graph executes. Keys name
// the parameter the way the module documents it (e.g. "weight", "bias").
type InitModule interface {
	Init(data map[string][]float32) error
}

// SerializeModule is implemented by modules that expose their
// parameter tensors for checkpointing or inspection.
type SerializeModule interface {
	Parameters() map[string]*GraphTensor
}
