// Command hashpw reads a password from stdin and prints its argon2id PHC
// hash, ready to be stored in users.password_hash.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/notifyhub/newsletter-delivery/internal/auth"
)

func main() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "read password:", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "password must not be empty")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password, auth.DefaultParams)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash password:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
