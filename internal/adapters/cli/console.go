// Package cli is the terminal front end of the voice client.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console prints chat lines, roster redraws and status lines.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Chat(line string) {
	c.println(line)
}

func (c *Console) Roster(nicks []string) {
	if len(nicks) == 0 {
		c.println("-- peers: (none)")
		return
	}
	c.println("-- peers: " + strings.Join(nicks, ", "))
}

func (c *Console) Status(msg string) {
	c.println("** " + msg)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}
