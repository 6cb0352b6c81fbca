// Package backend declares the capability set a native tensor engine must
// expose to this module. The engine itself — graphs, sessions, tensors,
// devices — is explicitly out of scope: this package is a narrow
// consumer-side interface, never an implementation. internal/nativebackend
// supplies the only implementation in this module, and it exists solely
// to exercise the module's own tests.
package backend

// DType is the element type tag carried by an Expr.
type DType int

// Element types this DSL supports.
const (
	Float32 DType = iota
	Float64
	Int32
	Int64
	String
)

// String renders the element type for diagnostics.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Status is a sink for backend result codes. Code == 0 means OK by
// convention, mirroring the native engine's status object.
type Status struct {
	Code    int
	Message string
}

// OK reports whether the status represents success.
func (s *Status) OK() bool { return s == nil || s.Code == 0 }

// Node is an opaque handle into the backend's computation graph, returned
// by every Graph constructor.
type Node interface {
	node()
}

// Sealed is embedded by types outside this package (the native backend
// implementation, test fakes) that need to satisfy Node's unexported
// method.
type Sealed struct{}

func (Sealed) node() {}

// OutputNode pairs a Node with the output index it refers to, for
// operators (such as gradients) that return several outputs from one
// node.
type OutputNode struct {
	Node Node
	Idx  int
}

// Tensor is a concrete, backend-owned array value: the result of running
// a graph, or a constant payload.
type Tensor interface {
	Shape() []int
	DType() DType
	// Flat returns the tensor's values in row-major order. The element
	// type matches DType (float32, float64, int32, int64, or string).
	Flat() any
}

// Device describes one compute device the backend can place a graph on.
type Device struct {
	Name        string
	Type        string
	MemoryBytes int64
}

// Graph is a handle to a backend computation graph under construction.
// Every method corresponds to one operator; shape inference for each call
// has already happened in the ops package before the Graph method is
// invoked — the Graph only needs to build the node.
type Graph interface {
	Name() string

	// Op resolves a previously constructed node by the name it was given
	// at construction time. Runner.AddInput/AddTarget/Fetch all go
	// through this.
	Op(name string) (Node, error)

	// Output selects one output of a multi-output node by index.
	Output(n Node, idx int) (Node, error)

	Constant(t Tensor) (Node, error)

	Add(x, y Node) (Node, error)
	Sub(x, y Node) (Node, error)
	Mul(x, y Node) (Node, error)
	Div(x, y Node) (Node, error)

	Neg(x Node) (Node, error)
	Abs(x Node) (Node, error)
	Sin(x Node) (Node, error)
	Exp(x Node) (Node, error)
	Sqrt(x Node) (Node, error)
	Relu(x Node) (Node, error)

	MatMul(x, y Node) (Node, error)

	Sum(x Node, axis []int, keepDims bool) (Node, error)
	Mean(x Node, axis []int, keepDims bool) (Node, error)
	Prod(x Node, axis []int, keepDims bool) (Node, error)

	DiagPart(x Node) (Node, error)

	Reshape(x Node, dims []int) (Node, error)
	BroadcastTo(x Node, dims []int) (Node, error)
	Stack(xs []Node, axis int) (Node, error)
	ExpandDims(x Node, axis int) (Node, error)
	Slice(x Node, begin, end []int) (Node, error)

	Conv2D(x, filter Node, stride int, padding string) (Node, error)
	Conv2DBackpropInput(inputShape []int, filter, outBackprop Node, stride int, padding string) (Node, error)

	TruncatedNormal(shape []int, dtype DType) (Node, error)
	Cast(x Node, dtype DType) (Node, error)
	DecodeJpeg(x Node, channels int) (Node, error)

	Variable(name string, def Node) (Node, error)

	// Gradients builds gradient nodes of y with respect to each of xs. dy
	// may be nil, meaning "ones like y".
	Gradients(y Node, xs []Node, dy Node) ([]Node, error)

	// WithScope runs thunk with a scoped name prefix acquired for its
	// duration, guaranteeing release on every exit path.
	WithScope(name string, thunk func() error) error
}

// PartialRunToken is an opaque handle obtained from
// Session.PartialRunSetup. It owns a native resource that must be
// released exactly once.
type PartialRunToken interface {
	Release() error
}

// Session executes a materialized graph. A single Run or PartialRun call
// blocks until the backend returns; distinct Sessions may be driven
// concurrently from separate goroutines ("thread-safe disposable"), but
// this module never assumes that of a single Session.
type Session interface {
	// Run feeds feeds, fetches fetches, and runs targets for their side
	// effects only. options and metadata are opaque buffers a caller may
	// supply and inspect; nil is a valid value for both. If status is
	// non-nil, a non-OK result is written there instead of raising.
	Run(feeds map[Node]Tensor, fetches, targets []Node, options []byte, metadata *[]byte, status *Status) ([]Tensor, error)

	// PartialRunSetup obtains a token enabling stepwise execution across
	// the named inputs/outputs/targets.
	PartialRunSetup(inputs, outputs, targets []Node) (PartialRunToken, error)

	// PartialRun executes one step of a partial-run token, feeding feeds
	// and fetching fetches.
	PartialRun(token PartialRunToken, feeds map[Node]Tensor, fetches []Node) ([]Tensor, error)

	// Close releases the session's native resources. Must be called
	// exactly once.
	Close() error
}

// Platform enumerates devices and creates graphs/sessions bound to them.
type Platform interface {
	Devices() ([]Device, error)
	NewGraph(name string) (Graph, error)
	NewSession(g Graph) (Session, error)
}
