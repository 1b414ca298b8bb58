package main

import "flowdesk/cmd/cli"

func main() {
	cli.Execute()
}
