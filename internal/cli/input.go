package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// ErrPassphraseMismatch is returned when the confirmation differs.
var ErrPassphraseMismatch = errors.New("passphrases do not match")

// GetPassphrase prints a prompt to w and reads a passphrase from the
// terminal without echo. With confirm set it is read twice and both must
// match. The caller should wipe the result when done.
func GetPassphrase(w io.Writer, confirm bool) ([]byte, error) {
	pw, err := prompt(w, "Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if !confirm {
		return pw, nil
	}
	again, err := prompt(w, "Repeat passphrase: ")
	defer wipe(again)
	if err != nil {
		wipe(pw)
		return nil, err
	}
	if !bytes.Equal(pw, again) {
		wipe(pw)
		return nil, ErrPassphraseMismatch
	}
	return pw, nil
}

func prompt(w io.Writer, text string) ([]byte, error) {
	if _, err := fmt.Fprint(w, text); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// wipe zeroes b.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
