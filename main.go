package main

import "github.com/msgcode/msgcode/cmd"

func main() {
	cmd.Execute()
}
