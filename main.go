package main

import "github.com/Siddhant-K-code/textembed/cmd"

func main() {
	cmd.Execute()
}
