package main

import "github.com/dormledger/auth-service/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
