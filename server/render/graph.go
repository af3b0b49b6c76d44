package render

// Graph is a Scene that records the view as a JSON-serializable scene graph
// for a WebGL client.
type Graph struct {
	Camera  *Camera      `json:"camera,omitempty"`
	Lights  []Light      `json:"lights"`
	Static  []StaticNode `json:"static"`
	Markers []Marker     `json:"markers"`
}

// StaticNode tags a static shape with its kind so clients can dispatch on it.
type StaticNode struct {
	Kind  string `json:"kind"`
	Shape Static `json:"shape"`
}

func NewGraph() *Graph {
	return &Graph{
		Lights:  []Light{},
		Static:  []StaticNode{},
		Markers: []Marker{},
	}
}

func (g *Graph) SetCamera(cam Camera) {
	g.Camera = &cam
}

func (g *Graph) AddLight(light Light) {
	g.Lights = append(g.Lights, light)
}

func (g *Graph) AddStatic(shape Static) {
	g.Static = append(g.Static, StaticNode{Kind: shape.Kind(), Shape: shape})
}

func (g *Graph) AddMarker(marker Marker) {
	g.Markers = append(g.Markers, marker)
}

// View is the payload sent to clients: what was displayed plus the graph.
type View struct {
	Frame Frame  `json:"frame"`
	Graph *Graph `json:"graph"`
}

// BuildView renders in into a fresh Graph.
func (r *Renderer) BuildView(in Input, cam OrbitCamera) View {
	g := NewGraph()
	f := r.RenderWith(in, cam, g)
	return View{Frame: f, Graph: g}
}
