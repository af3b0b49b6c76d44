// Package pitch describes the static geometry of a regulation cricket pitch
// in the trajectory coordinate frame: x along the pitch, y up, z lateral,
// origin at the pitch centre.
package pitch

import "github.com/san-kum/cricket-hawkeye/server/models"

const (
	Length = 20.12
	Width  = 3.05

	// CreaseX is the distance from the centre to each popping crease.
	CreaseX         = 10.0
	CreaseHalfWidth = 1.5

	StumpHeight  = 0.71
	StumpSpacing = 0.12
	StumpGauge   = 0.05
	StumpsPerEnd = 3

	BailHeight = 0.73
	BailLength = 0.3
	BailGauge  = 0.03

	// Surface layers are lifted slightly to keep them from z-fighting.
	GroundLift = 0.01
	PitchLift  = 0.02
	CreaseLift = 0.03

	GroundMarginLength = 5
	GroundMarginWidth  = 2
)

const (
	ColorGround = "#2d5016"
	ColorPitch  = "#4a7c2a"
	ColorCrease = "#ffffff"
	ColorStump  = "#f4e4c1"
	ColorGrid   = "#3a3a3a"
	ColorSector = "#4a4a4a"
)

// Rect is a horizontal rectangle centred at Center with extent Length
// along x and Width along z.
type Rect struct {
	Name   string            `json:"name"`
	Center models.Position3D `json:"center"`
	Length float64           `json:"length"`
	Width  float64           `json:"width"`
	Color  string            `json:"color"`
}

type Segment struct {
	Name  string            `json:"name"`
	From  models.Position3D `json:"from"`
	To    models.Position3D `json:"to"`
	Color string            `json:"color"`
	Width float64           `json:"width"`
}

// Box is an axis aligned cuboid; Size holds the full extent on each axis.
type Box struct {
	Name   string            `json:"name"`
	Center models.Position3D `json:"center"`
	Size   models.Position3D `json:"size"`
	Color  string            `json:"color"`
}

type Grid struct {
	Size         float64 `json:"size"`
	CellSize     float64 `json:"cell_size"`
	SectionSize  float64 `json:"section_size"`
	CellColor    string  `json:"cell_color"`
	SectionColor string  `json:"section_color"`
}

func (Rect) Kind() string    { return "plane" }
func (Segment) Kind() string { return "segment" }
func (Box) Kind() string     { return "box" }
func (Grid) Kind() string    { return "grid" }

// Model is the full static scene: surfaces, crease lines and both wickets.
type Model struct {
	Ground  Rect      `json:"ground"`
	Pitch   Rect      `json:"pitch"`
	Creases []Segment `json:"creases"`
	Stumps  []Box     `json:"stumps"`
	Bails   []Box     `json:"bails"`
	Grid    Grid      `json:"grid"`
	Axes    float64   `json:"axes"`
}

// Ends lists the x coordinate of the bowler's and batsman's wickets.
func Ends() [2]float64 {
	return [2]float64{-CreaseX, CreaseX}
}

// StumpOffsets lists the lateral offsets of the three stumps in a wicket.
func StumpOffsets() [StumpsPerEnd]float64 {
	return [StumpsPerEnd]float64{-StumpSpacing, 0, StumpSpacing}
}

// NewModel builds the scene model. It takes no inputs and always returns an
// identical value.
func NewModel() Model {
	m := Model{
		Ground: Rect{
			Name:   "ground",
			Center: models.Position3D{Y: GroundLift},
			Length: Length + GroundMarginLength,
			Width:  Width + GroundMarginWidth,
			Color:  ColorGround,
		},
		Pitch: Rect{
			Name:   "pitch",
			Center: models.Position3D{Y: PitchLift},
			Length: Length,
			Width:  Width,
			Color:  ColorPitch,
		},
		Grid: Grid{
			Size:         30,
			CellSize:     1,
			SectionSize:  5,
			CellColor:    ColorGrid,
			SectionColor: ColorSector,
		},
		Axes: 5,
	}

	for i, x := range Ends() {
		end := endName(i)
		m.Creases = append(m.Creases, Segment{
			Name:  end + "-crease",
			From:  models.Position3D{X: x, Y: CreaseLift, Z: -CreaseHalfWidth},
			To:    models.Position3D{X: x, Y: CreaseLift, Z: CreaseHalfWidth},
			Color: ColorCrease,
			Width: 3,
		})

		for _, z := range StumpOffsets() {
			m.Stumps = append(m.Stumps, Box{
				Name:   end + "-stump",
				Center: models.Position3D{X: x, Y: StumpHeight / 2, Z: z},
				Size:   models.Position3D{X: StumpGauge, Y: StumpHeight, Z: StumpGauge},
				Color:  ColorStump,
			})
		}

		// One bail bridging the outer stumps.
		m.Bails = append(m.Bails, Box{
			Name:   end + "-bail",
			Center: models.Position3D{X: x, Y: BailHeight},
			Size:   models.Position3D{X: BailGauge, Y: BailGauge, Z: BailLength},
			Color:  ColorStump,
		})
	}

	return m
}

func endName(i int) string {
	if i == 0 {
		return "bowler"
	}
	return "batsman"
}
