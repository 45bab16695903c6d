package main

import "github.com/trafficlite/trafficlite/internal/cli"

func main() {
	cli.Execute()
}
