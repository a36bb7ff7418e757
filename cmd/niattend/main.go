package main

import "github.com/djahasiel101600/nia-attendance/cmd/niattend/cmd"

func main() {
	cmd.Execute()
}
