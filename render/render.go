// Package render draws territory snapshots for the admin map endpoint.
// Geometry comes in as WKT in WGS84; the output is a square PNG-ready
// image covering a requested bounding box.
package render

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strconv"

	"github.com/anthonynsimon/bild/transform"
	"github.com/llgcode/draw2d/draw2dimg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/landrun/landrun/geo"
)

// Territory is one owner's land to draw.
type Territory struct {
	Name  string
	Color string // "#rrggbb" identity color; empty picks from the palette
	Geom  string // WKT polygon or multipolygon
}

// Box is the geographic window of the snapshot.
type Box struct {
	MinLng, MinLat float64
	MaxLng, MaxLat float64
}

func (b Box) valid() bool {
	return b.MaxLng > b.MinLng && b.MaxLat > b.MinLat
}

// palette fills in for owners without a stored identity color.
var palette = [6]color.RGBA{
	{0x44, 0x0e, 0x62, 0xff},
	{0x00, 0x4b, 0x80, 0xff},
	{0x9e, 0x0b, 0x0f, 0xff},
	{0x0b, 0x6e, 0x1f, 0xff},
	{0xb8, 0x86, 0x0b, 0xff},
	{0x80, 0x80, 0x80, 0xff},
}

// Snapshot renders every territory into a size x size image covering box.
// Fills are at 40% opacity with a white stroke, matching the in-app map
// styling; owner names are labeled at each polygon's centroid.
func Snapshot(territories []Territory, box Box, size int) (image.Image, error) {
	if size <= 0 {
		return nil, errors.New("render.Snapshot: size must be positive")
	}
	if !box.valid() {
		return nil, fmt.Errorf("render.Snapshot: degenerate bounding box %+v", box)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))

	// lng/lat to pixel space, with y flipped so north is up
	scaleX := float64(size) / (box.MaxLng - box.MinLng)
	scaleY := float64(size) / (box.MaxLat - box.MinLat)
	tf := func(p geo.Point) (float64, float64) {
		return (p.Lng - box.MinLng) * scaleX, float64(size) - (p.Lat-box.MinLat)*scaleY
	}

	gc := draw2dimg.NewGraphicContext(img)
	for _, t := range territories {
		poly, err := geo.ParsePolygon(t.Geom)
		if err != nil {
			return nil, fmt.Errorf("render.Snapshot: territory %q: %w", t.Name, err)
		}
		if len(poly) == 0 {
			continue
		}

		fc := ownerColor(t)
		fc.R = uint8(uint16(fc.R) * 102 / 255)
		fc.G = uint8(uint16(fc.G) * 102 / 255)
		fc.B = uint8(uint16(fc.B) * 102 / 255)
		fc.A = 102 // 40% opacity

		gc.SetStrokeColor(color.White)
		gc.SetLineWidth(2)
		gc.SetFillColor(fc)

		for _, ring := range poly {
			gc.BeginPath()
			for i, p := range ring {
				if i == 0 {
					gc.MoveTo(tf(p))
				} else {
					gc.LineTo(tf(p))
				}
			}
			gc.Close()
			gc.FillStroke()
		}

		if t.Name != "" {
			x, y := tf(geo.Centroid(poly))
			label(img, t.Name, int(x), int(y))
		}
	}
	return img, nil
}

// Thumbnail scales a snapshot down for list views.
func Thumbnail(img image.Image, px int) image.Image {
	return transform.Resize(img, px, px, transform.Linear)
}

func label(img *image.RGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	w := d.MeasureString(text)
	d.Dot = fixed.P(x-w.Round()/2, y)
	d.DrawString(text)
}

func ownerColor(t Territory) color.RGBA {
	if c, err := parseHexColor(t.Color); err == nil {
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(t.Name))
	return palette[h.Sum32()%uint32(len(palette))]
}

func parseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("render: bad color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("render: bad color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
