package main

import (
	"example.com/damdoh/services/traceability/cmd"
)

func main() {
	cmd.Execute()
}
