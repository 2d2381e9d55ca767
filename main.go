package main

import "flowq/cmd"

func main() {
	cmd.Run()
}
