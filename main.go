package main

import "github.com/Mohsinsiddi/permitflow/cmd"

func main() {
	cmd.Execute()
}
