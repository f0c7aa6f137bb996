package main

import "avtranscribe/cmd"

func main() {
	cmd.Execute()
}
