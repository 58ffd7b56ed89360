package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenCLI offers operational helpers for the operator bearer token.
type TokenCLI struct{}

// NewTokenCLI constructs a new helper instance.
func NewTokenCLI() *TokenCLI {
	return &TokenCLI{}
}

// TokenHashOptions configures the token hash command.
type TokenHashOptions struct {
	Token  string
	Cost   int
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// HashCommand prints the bcrypt hash the server expects in OPS_TOKEN_HASH.
// The secret comes from --token or, preferably, a line on stdin so it stays
// out of shell history.
func (c *TokenCLI) HashCommand(opts TokenHashOptions) int {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		_, _ = fmt.Fprintf(opts.Stderr, "token hash: cost %d out of range [%d, %d]\n", cost, bcrypt.MinCost, bcrypt.MaxCost)
		return 1
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		line, err := readTokenLine(opts.Stdin)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "token hash: read stdin: %v\n", err)
			return 1
		}
		token = line
	}
	if token == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "token hash: empty token")
		return 1
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token hash: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, string(hash))
	return 0
}

func readTokenLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
