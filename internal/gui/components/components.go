// Package components holds the small styled widgets the panel is built from.
package components

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// Heading creates a large, bold heading
func Heading(text string) *widget.RichText {
	return widget.NewRichText(&widget.TextSegment{
		Text: text,
		Style: widget.RichTextStyle{
			SizeName:  theme.SizeNameHeadingText,
			TextStyle: fyne.TextStyle{Bold: true},
		},
	})
}

// Subheading creates a section title
func Subheading(text string) *widget.RichText {
	return widget.NewRichText(&widget.TextSegment{
		Text: text,
		Style: widget.RichTextStyle{
			SizeName:  theme.SizeNameSubHeadingText,
			TextStyle: fyne.TextStyle{Bold: true},
		},
	})
}

// Card wraps content in a padded, slightly raised rounded rectangle.
func Card(content fyne.CanvasObject) *fyne.Container {
	bg := canvas.NewRectangle(elevated(theme.Color(theme.ColorNameBackground)))
	bg.CornerRadius = 4
	bg.StrokeColor = theme.Color(theme.ColorNameSeparator)
	bg.StrokeWidth = 1
	return container.NewStack(bg, container.NewPadded(content))
}

// Section is a card with a title above its content.
func Section(title string, content ...fyne.CanvasObject) *fyne.Container {
	return Card(container.NewVBox(append([]fyne.CanvasObject{Subheading(title)}, content...)...))
}

func elevated(c color.Color) color.Color {
	r, g, b, a := c.RGBA()
	return color.NRGBA{
		R: uint8(min(r>>8+6, 255)),
		G: uint8(min(g>>8+6, 255)),
		B: uint8(min(b>>8+6, 255)),
		A: uint8(a >> 8),
	}
}

// ChipStyle selects a chip's colour
type ChipStyle int

const (
	ChipStyleDefault ChipStyle = iota
	ChipStyleSuccess
	ChipStyleWarning
	ChipStyleDanger
)

// Chip is a small rounded badge whose text and colour can change.
type Chip struct {
	*fyne.Container
	bg    *canvas.Rectangle
	label *canvas.Text
}

// NewChip creates a chip.
func NewChip(text string, style ChipStyle) *Chip {
	c := &Chip{
		bg:    canvas.NewRectangle(chipColor(style)),
		label: canvas.NewText(text, color.White),
	}
	c.bg.CornerRadius = 8
	c.label.TextSize = theme.CaptionTextSize()
	c.label.TextStyle = fyne.TextStyle{Bold: true}
	c.Container = container.NewStack(c.bg, container.NewPadded(c.label))
	return c
}

// Set changes the chip's text and colour. UI thread only.
func (c *Chip) Set(text string, style ChipStyle) {
	c.label.Text = text
	c.bg.FillColor = chipColor(style)
	c.label.Refresh()
	c.bg.Refresh()
}

func chipColor(style ChipStyle) color.Color {
	switch style {
	case ChipStyleSuccess:
		return color.NRGBA{R: 56, G: 142, B: 60, A: 255}
	case ChipStyleWarning:
		return color.NRGBA{R: 230, G: 126, B: 0, A: 255}
	case ChipStyleDanger:
		return color.NRGBA{R: 211, G: 47, B: 47, A: 255}
	default:
		return color.NRGBA{R: 97, G: 97, B: 97, A: 255}
	}
}
