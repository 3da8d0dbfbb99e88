package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vigil/internal/pipeline"
)

// palette of box colors, assigned to classes in first-seen order so each
// class keeps a stable color for the lifetime of the process.
var palette = []color.RGBA{
	{0, 255, 0, 255},
	{255, 0, 0, 255},
	{0, 128, 255, 255},
	{255, 255, 0, 255},
	{255, 0, 255, 255},
	{0, 255, 255, 255},
	{255, 128, 0, 255},
	{128, 0, 255, 255},
}

// Renderer draws stabilized detections onto JPEG frames.
type Renderer struct {
	classColors map[string]color.RGBA
	colorIndex  int
	mu          sync.Mutex
}

// NewRenderer creates a renderer with an empty color cache.
func NewRenderer() *Renderer {
	return &Renderer{
		classColors: make(map[string]color.RGBA),
	}
}

// ClassColor returns the stable color for a class label.
func (r *Renderer) ClassColor(class string) color.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classColors[class]; ok {
		return c
	}
	c := palette[r.colorIndex%len(palette)]
	r.classColors[class] = c
	r.colorIndex++
	return c
}

// Draw decodes jpegData, draws each detection's box and label, and encodes
// the result. On any decode/encode error the original frame is returned
// unchanged; overlays are cosmetic and never fail the stream.
func (r *Renderer) Draw(jpegData []byte, detections []pipeline.StabilizedDetection) []byte {
	if len(detections) == 0 {
		return jpegData
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, det := range detections {
		c := r.ClassColor(det.Class)
		x := int(det.Box.X1)
		y := int(det.Box.Y1)
		w := int(det.Box.X2 - det.Box.X1)
		h := int(det.Box.Y2 - det.Box.Y1)
		drawBox(rgba, x, y, w, h, c, 2)
		label := fmt.Sprintf("%s %.0f%% x%d", det.Class, det.Confidence*100, det.StabilityCount)
		drawLabel(rgba, x, y-5, label, c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

// drawBox draws a rectangle outline clipped to the image bounds.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background strip.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
