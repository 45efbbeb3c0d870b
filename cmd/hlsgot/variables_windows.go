//go:build windows

package main

import "fmt"

// Windows doesn't handle the block-style very well
var (
	progressStyle = "="
	r, l          = "]", "["
	clearRight    = ""
)

func color(content ...interface{}) string {
	return fmt.Sprint(content...)
}
