package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/docvault/internal/common"
	"golang.org/x/term"
)

// Seams for term.ReadPassword and term.IsTerminal, so tests never touch the
// terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
)

var errNoTerminal = errors.New("master key is not provisioned and stdin is not a terminal")

// promptMasterKey reads a hex key without echo. It refuses to prompt when
// stdin is not interactive.
func promptMasterKey(w io.Writer, prompt string) (string, error) {
	fd := stdinFd()
	if !isTerminal(fd) {
		return "", errNoTerminal
	}
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	key, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)
	return strings.TrimSpace(string(key)), nil
}
