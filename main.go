package main

import "saltbox/cmd"

func main() {
	cmd.Execute()
}
