package main

import "github.com/authzkit/kuberbac/cmd"

func main() {
	cmd.Execute()
}
