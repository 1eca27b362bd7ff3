package main

import (
	"aurumpulse/internal/cli"
)

func main() {
	cli.Execute()
}
