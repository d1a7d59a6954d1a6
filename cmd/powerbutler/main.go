package main

import (
	_ "time/tzdata"

	"power-butler/internal/cli"
)

func main() {
	cli.Execute()
}
