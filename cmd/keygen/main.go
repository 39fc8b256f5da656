// Command keygen prints a new API key and the <prefix>:<bcrypt hash> entry to
// append to FINSCAN_API_KEY_HASHES.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	mw "github.com/kiranshivaraju/finscan/internal/api/middleware"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "fs_"

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	if err := run(os.Stdout, rand.Reader, *cost); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, random io.Reader, cost int) error {
	key, hash, err := generate(random, cost)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "API key (give to the client, shown once): %s\n", key)
	fmt.Fprintf(w, "Entry (append to FINSCAN_API_KEY_HASHES): %s\n", mw.KeyEntry(key, hash))
	return nil
}

func generate(random io.Reader, cost int) (string, string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	key := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}
	return key, string(hash), nil
}
