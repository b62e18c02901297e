package main

import "github.com/dmolina/escarabajo/cmd"

func main() {
	cmd.Execute()
}
