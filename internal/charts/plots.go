package charts

import (
	"fmt"
	"image"
	"image/color"
	"time"

	xfont "golang.org/x/image/font"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const dpi = 96

var (
	blue       = hex(0x1f77b4)
	orange     = hex(0xff7f0e)
	green      = hex(0x2ca02c)
	lightBlue  = hex(0xadd8e6)
	skyBlue    = hex(0x87ceeb)
	lightCoral = hex(0xf08080)
	lightGreen = hex(0x90ee90)
	gold       = hex(0xffd700)
	red        = hex(0xff0000)
	white      = color.White
)

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// pixels converts an image dimension to a vg length at dpi.
func pixels(n int) vg.Length {
	return vg.Length(n) * vg.Inch / dpi
}

// newPlot creates a panel with a bold title and a light grid.
func newPlot(title, xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Weight = xfont.WeightBold
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 0xdd}
	grid.Horizontal.Color = color.Gray{Y: 0xdd}
	p.Add(grid)
	return p
}

// rasterize lays the panels out in a grid of rows and draws them onto one
// width x height image.
func rasterize(rows [][]*plot.Plot) image.Image {
	c := vgimg.NewWith(
		vgimg.UseWH(pixels(width), pixels(height)),
		vgimg.UseDPI(dpi),
		vgimg.UseBackgroundColor(color.White),
	)
	dc := draw.New(c)
	tiles := draw.Tiles{
		Rows:      len(rows),
		Cols:      len(rows[0]),
		PadX:      vg.Millimeter * 8,
		PadY:      vg.Millimeter * 6,
		PadTop:    vg.Millimeter * 3,
		PadBottom: vg.Millimeter * 3,
		PadLeft:   vg.Millimeter * 3,
		PadRight:  vg.Millimeter * 5,
	}
	canvases := plot.Align(rows, tiles, dc)
	for j, row := range rows {
		for i, p := range row {
			p.Draw(canvases[j][i])
		}
	}
	return c.Image()
}

// localTime maps axis values (unix seconds) to local wall time for ticks.
func localTime(v float64) time.Time {
	return time.Unix(int64(v), 0).Local()
}

// linePanel plots one series against time with point markers.
func linePanel(title, yLabel string, pts []xy, col color.Color, shape draw.GlyphDrawer, lineWidth float64) (*plot.Plot, error) {
	p := newPlot(title, "", yLabel)
	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i].X, xys[i].Y = pt.x, pt.y
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Color = col
	line.LineStyle.Width = vg.Points(lineWidth)
	points.GlyphStyle.Color = col
	points.GlyphStyle.Shape = shape
	points.GlyphStyle.Radius = vg.Points(2)
	p.Add(line, points)
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04", Time: localTime}
	p.Y.Min = 0
	return p, nil
}

type xy struct{ x, y float64 }

// barPanel draws one bar per category with its value printed on top. Colors
// are cycled when there are fewer colors than categories.
func barPanel(title, xLabel, yLabel string, cats []string, values []float64, colors []color.Color, format string) (*plot.Plot, error) {
	p := newPlot(title, xLabel, yLabel)
	if len(cats) == 0 {
		return p, nil
	}

	barWidth := pixels(width) * 0.6 / vg.Length(len(cats))
	if len(cats) > 6 {
		barWidth = pixels(width) * 0.5 / vg.Length(len(cats))
	}
	var top float64
	labels := plotter.XYLabels{}
	for i, v := range values {
		bar, err := plotter.NewBarChart(plotter.Values{v}, barWidth)
		if err != nil {
			return nil, err
		}
		bar.XMin = float64(i)
		bar.Color = colors[i%len(colors)]
		bar.LineStyle.Width = vg.Points(0.5)
		p.Add(bar)

		top = max(top, v)
		labels.XYs = append(labels.XYs, plotter.XY{X: float64(i), Y: v})
		labels.Labels = append(labels.Labels, fmt.Sprintf(format, v))
	}

	annot, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, err
	}
	for i := range annot.TextStyle {
		annot.TextStyle[i].XAlign = text.XCenter
		annot.TextStyle[i].Font.Weight = xfont.WeightBold
	}
	annot.Offset = vg.Point{Y: vg.Points(2)}
	p.Add(annot)

	p.NominalX(cats...)
	p.Y.Min = 0
	p.Y.Max = max(top*1.15, 1)
	return p, nil
}

// cellGrid adapts heatmap data to plotter.GridXYZ. Row 0 (Monday) is drawn
// at the top.
type cellGrid struct {
	values [][]float64
}

func (g cellGrid) Dims() (c, r int) { return len(g.values[0]), len(g.values) }

func (g cellGrid) Z(c, r int) float64 { return g.values[len(g.values)-1-r][c] }

func (g cellGrid) X(c int) float64 { return float64(c) }

func (g cellGrid) Y(r int) float64 { return float64(r) }

// ylOrRd is the yellow-orange-red color ramp, low to high. It implements
// palette.Palette.
type ylOrRd []color.Color

func (p ylOrRd) Colors() []color.Color { return p }

var ylOrRdStops = []color.RGBA{
	hex(0xffffcc), hex(0xffeda0), hex(0xfed976), hex(0xfeb24c), hex(0xfd8d3c),
	hex(0xfc4e2a), hex(0xe31a1c), hex(0xbd0026), hex(0x800026),
}

// newYlOrRd interpolates the ramp into n colors.
func newYlOrRd(n int) ylOrRd {
	out := make(ylOrRd, n)
	for i := range out {
		pos := float64(i) / float64(n-1) * float64(len(ylOrRdStops)-1)
		k := min(int(pos), len(ylOrRdStops)-2)
		f := pos - float64(k)
		a, b := ylOrRdStops[k], ylOrRdStops[k+1]
		mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*f + 0.5) }
		out[i] = color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 0xff}
	}
	return out
}
