package main

import "github.com/igelfs/go-igfs/cmd"

func main() {
	cmd.Execute()
}
