package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// placeholderFile is the synthesized still frame inside the output dir.
const placeholderFile = "placeholder.png"

var (
	placeholderBG   = color.RGBA{R: 0x10, G: 0x18, B: 0x28, A: 0xff}
	placeholderText = color.RGBA{R: 0xe8, G: 0xe8, B: 0xe8, A: 0xff}
)

// writePlaceholderFrame renders a still frame carrying the message and
// writes it as PNG into dir, returning the file path.
func writePlaceholderFrame(dir, message string, width, height int) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBG), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lines := wrapMessage(message, width/face.Advance-4)
	lineHeight := face.Height + 6
	startY := height/2 - (len(lines)*lineHeight)/2
	for i, line := range lines {
		w := len(line) * face.Advance
		d := font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(placeholderText),
			Face: face,
			Dot:  fixed.P((width-w)/2, startY+i*lineHeight),
		}
		d.DrawString(line)
	}

	path := filepath.Join(dir, placeholderFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating placeholder frame: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encoding placeholder frame: %w", err)
	}
	return path, nil
}

// wrapMessage splits a message into lines of at most maxChars characters,
// breaking on spaces.
func wrapMessage(message string, maxChars int) []string {
	if maxChars < 8 {
		maxChars = 8
	}
	var lines []string
	line := ""
	for _, word := range splitWords(message) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= maxChars:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = []string{"No signal"}
	}
	return lines
}

func splitWords(s string) []string {
	var words []string
	word := ""
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if word != "" {
				words = append(words, word)
				word = ""
			}
			continue
		}
		word += string(r)
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}
