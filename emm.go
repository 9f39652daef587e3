package main

import (
	"github.com/reynalivan/emm-core/cmd"
)

func main() {
	cmd.Execute()
}
