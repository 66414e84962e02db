// Command keygen generates an admin key for the signup listing.
//
// The plaintext key is given to operators; the hash goes into ADMIN_KEY_HASH.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opef/betalist/internal/auth"
)

type output struct {
	Key          string `json:"key"`
	AdminKeyHash string `json:"admin_key_hash"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		format = fs.String("format", "plain", "Output format: plain or json")
		verify = fs.String("verify", "", "Check this key against ADMIN_KEY_HASH instead of generating one")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *verify != "" {
		return verifyKey(*verify, os.Getenv("ADMIN_KEY_HASH"), stdout, stderr)
	}

	generated, err := auth.GenerateAdminKey()
	if err != nil {
		fmt.Fprintln(stderr, "generate admin key:", err)
		return 1
	}

	out := output{
		Key:          generated.Plaintext,
		AdminKeyHash: generated.Hash,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Fprintln(stdout, out.Key)
		fmt.Fprintf(stdout, "ADMIN_KEY_HASH=%s\n", out.AdminKeyHash)
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(stderr, "encode output:", err)
			return 1
		}
	default:
		fmt.Fprintln(stderr, "invalid format; use plain or json")
		return 2
	}

	return 0
}

func verifyKey(key, hash string, stdout, stderr io.Writer) int {
	if hash == "" {
		fmt.Fprintln(stderr, "ADMIN_KEY_HASH is required with -verify")
		return 2
	}
	if !auth.ValidateKeyFormat(key) {
		fmt.Fprintln(stderr, auth.ErrInvalidKeyFormat)
		return 1
	}

	ok, err := auth.VerifyKey(key, hash)
	if err != nil {
		fmt.Fprintln(stderr, "verify:", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "mismatch")
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}
