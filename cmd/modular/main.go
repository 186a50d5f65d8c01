package main

import "github.com/nfrund/modular/cmd/modular/cmd"

func main() {
	cmd.Execute()
}
