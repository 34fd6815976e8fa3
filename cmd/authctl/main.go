// Command authctl is a terminal client for the authentication service:
// login, registration, email verification, password reset, and Google
// sign-in, with the session persisted across invocations.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
