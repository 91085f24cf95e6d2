package main

import (
	"os"

	"inventory"
)

func main() {
	os.Exit(inventory.RunApp(os.Args[1:]))
}
