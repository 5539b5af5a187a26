package main

import "github.com/crystaldolphin/pushbridge/cmd"

func main() {
	cmd.Execute()
}
