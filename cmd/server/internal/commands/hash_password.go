package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mujeresenbici/rodada/internal/login"
)

// HashPasswordCmd prints a bcrypt hash for --admin-password-hash.
type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"password to hash, read from stdin when omitted"`

	in  io.Reader `kong:"-"`
	out io.Writer `kong:"-"`
}

func (c *HashPasswordCmd) Run(globals *Globals) error {
	in, out := c.in, c.out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	password := c.Password
	if password == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := login.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, hash)
	return err
}
