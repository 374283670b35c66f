package main

import "xrayclient/internal/cli"

func main() {
	cli.Execute()
}
