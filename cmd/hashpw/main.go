// Command hashpw prints the bcrypt hash for a password, for provisioning
// accounts outside the seed data.
package main

import (
	"fmt"
	"os"

	"github.com/aegishub/aegishub-go/pkg/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}
	password := os.Args[1]

	if err := auth.ValidatePassword(password); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
