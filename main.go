package main

import "github.com/iskips123/Discord-Dating/cmd"

func main() {
	cmd.Execute()
}
