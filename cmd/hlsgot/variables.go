//go:build !windows

package main

import (
	"fmt"

	"gitlab.com/poldi1405/go-ansi"
)

var (
	progressStyle = "█"
	r, l          = "|", "|"
	clearRight    = "\x1b[K"
)

func color(content ...interface{}) string {
	return ansi.Blue(fmt.Sprint(content...))
}
