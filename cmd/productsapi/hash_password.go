package main

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webshop/shopauth/password"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print the stored credential for a password",
		Long: `Read a password and print its base64 Argon2id credential for the "users"
section of the config file. On a terminal the password is read twice without
echo; otherwise the first line of stdin is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			credential, err := password.NewArgon2().HashString(pass)
			if err != nil {
				return oops.Code("HASH_FAILED").Wrap(err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), credential)
			return err
		},
	}
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return readTerminalPassword(int(f.Fd()), prompt)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("INPUT_FAILED").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", oops.Code("INPUT_FAILED").Errorf("empty password")
	}
	return line, nil
}

func readTerminalPassword(fd int, prompt io.Writer) (string, error) {
	_, _ = fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(prompt)
	if err != nil {
		return "", oops.Code("INPUT_FAILED").Wrap(err)
	}

	_, _ = fmt.Fprint(prompt, "Confirm: ")
	second, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(prompt)
	if err != nil {
		return "", oops.Code("INPUT_FAILED").Wrap(err)
	}

	if len(first) == 0 {
		return "", oops.Code("INPUT_FAILED").Errorf("empty password")
	}
	if subtle.ConstantTimeCompare(first, second) != 1 {
		return "", oops.Code("INPUT_FAILED").Errorf("passwords do not match")
	}
	return string(first), nil
}
