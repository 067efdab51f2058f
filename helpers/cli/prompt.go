package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

func IsInteractive() bool { return isatty.IsTerminal(os.Stdin.Fd()) }

// MainLoop feeds stdin lines to exec until EOF.
// Terminal gets prompt with completion, pipe is read line by line.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if IsInteractive() {
		prompt.New(exec, complete, prompt.OptionPrefix(tag+"> ")).Run()
		return nil
	}
	return ReadLines(os.Stdin, exec)
}

func ReadLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		exec(strings.TrimSpace(scanner.Text()))
	}
	return scanner.Err()
}
