package main

import "openapi-mesh-handler/cmd"

func main() {
	cmd.Execute()
}
