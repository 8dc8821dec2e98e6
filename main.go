package main

import "github.com/Duskaraa/Plots-Manager/cmd"

func main() {
	cmd.Execute()
}
