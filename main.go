package main

import "github.com/ValentinKolb/asyncsrt/cmd"

func main() {
	cmd.Execute()
}
