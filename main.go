package main

import (
	_ "time/tzdata" // embed IANA timezone database for containers without tzdata

	"github.com/nextlevelbuilder/cronmaster/cmd"
)

func main() {
	cmd.Execute()
}
