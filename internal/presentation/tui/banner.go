package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the ASCII art banner for Transmute.
func PrintBanner() {
	p := termenv.ColorProfile()
	// Using a subtle gradient-like color scheme (Indigo/Violet)
	s1 := termenv.String(" _                                     _       ").Foreground(p.Color("#818cf8"))
	s2 := termenv.String("| |_ _ __ __ _ _ __  ___ _ __ ___  _  _| |_ ___ ").Foreground(p.Color("#a78bfa"))
	s3 := termenv.String("| __| '__/ _` | '_ \\/ __| '_ ` _ \\| || | __/ _ \\").Foreground(p.Color("#c084fc"))
	s4 := termenv.String("| |_| | | (_| | | | \\__ \\ | | | | | || | ||  __/").Foreground(p.Color("#e879f9"))
	s5 := termenv.String(" \\__|_|  \\__,_|_| |_|___/_| |_| |_|\\_,_|\\__\\___|").Foreground(p.Color("#f472b6"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println()
}
