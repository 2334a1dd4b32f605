// Command authctl is a CLI for the gradeloop IAM service: log in, inspect
// the session, refresh and log out, with credentials saved between runs.
package main

import "github.com/gradeloop/authkit/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
