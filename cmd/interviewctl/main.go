// interviewctl is a terminal client for the interview server.
package main

import "github.com/ashureev/interview-room/internal/cli"

func main() {
	cli.Execute()
}
