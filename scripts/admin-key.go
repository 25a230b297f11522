package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/poapgate/poapgate/internal/auth"
)

type output struct {
	Key  string `json:"key,omitempty"`
	Hash string `json:"hash"`
	Env  string `json:"env"`
}

func main() {
	var (
		existing = flag.String("key", "", "Hash this key instead of generating one")
		verify   = flag.String("verify", "", "Check -key against this argon2id hash and exit")
		format   = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *verify != "" {
		ok, err := auth.VerifyKey(*existing, *verify)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "key does not match hash")
			os.Exit(1)
		}
		fmt.Println("key matches hash")
		return
	}

	var out output
	if *existing != "" {
		key := strings.TrimSpace(*existing)
		if !auth.ValidateKeyFormat(key) {
			fmt.Fprintln(os.Stderr, "key must look like pg_admin_ followed by 32 hex characters")
			os.Exit(1)
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash key:", err)
			os.Exit(1)
		}
		out = output{Hash: hash}
	} else {
		generated, err := auth.GenerateAdminKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate admin key:", err)
			os.Exit(1)
		}
		out = output{Key: generated.Plaintext, Hash: generated.Hash}
	}
	out.Env = "ADMIN_API_KEY_HASH=" + out.Hash

	switch strings.ToLower(*format) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			os.Exit(1)
		}
	case "plain":
		if out.Key != "" {
			fmt.Printf("Admin key (shown once): %s\n", out.Key)
		}
		fmt.Println(out.Env)
	default:
		fmt.Fprintln(os.Stderr, "format must be plain or json")
		os.Exit(1)
	}
}
