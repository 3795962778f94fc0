package main

import (
	"stocktag.GO/cmd"
	"stocktag.GO/config"
)

func main() {
	config.LoadEnv()
	cmd.Execute()
}
