package main

import "nockwatch/internal/cli"

func main() {
	cli.Execute()
}
