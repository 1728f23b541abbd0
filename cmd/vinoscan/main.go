package main

import "github.com/MeKo-Tech/vinoscan/cmd/vinoscan/cmd"

func main() {
	cmd.Execute()
}
