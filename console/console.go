// Package console is a line oriented presentation for a bridged session.
// It keeps the value it displays the way an app screen would: its own edits
// and counterUpdated events overwrite it.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/Meander-Cloud/go-pairsync/bridge"
	m "github.com/Meander-Cloud/go-pairsync/message"
)

var errQuit = errors.New("quit")

const help = "commands: init, + (inc), - (dec), set N, show, quit"

type Console struct {
	out io.Writer

	mutex     sync.Mutex
	counter   int64
	statusKey string
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:       out,
		statusKey: "not_supported",
	}
}

// invoked on arbiter goroutine
func (c *Console) InvokeMethod(method string, arguments any) {
	switch method {
	case bridge.EventSessionStateChanged:
		args, ok := arguments.(map[string]any)
		if !ok {
			return
		}
		statusKey, _ := args["status_key"].(string)

		c.mutex.Lock()
		c.statusKey = statusKey
		c.mutex.Unlock()

		c.printf("%s %s\n", color.CyanString("status"), colorStatus(statusKey))
	case bridge.EventCounterUpdated:
		update, err := m.DecodeCounterUpdate(arguments)
		if err != nil {
			c.printf("%s %s\n", color.RedString("bad event"), err.Error())
			return
		}

		c.mutex.Lock()
		c.counter = update.Counter
		c.mutex.Unlock()

		c.printf("%s %d\n", color.MagentaString("peer"), update.Counter)
	}
}

// Run reads commands from in until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader, b *bridge.Bridge) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printf("%s\n", help)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}

			err := c.handle(ctx, line, b)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("%s %s\n", color.RedString("error"), err.Error())
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string, b *bridge.Bridge) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "init":
		result, err := b.HandleMethodCall(ctx, &bridge.MethodCall{Method: bridge.MethodInitializeSession})
		if err != nil {
			return err
		}
		args, _ := result.(map[string]any)
		statusKey, _ := args["status_key"].(string)
		c.printf("%s %s\n", color.CyanString("initialized"), colorStatus(statusKey))
		return nil
	case "+", "inc":
		return c.send(ctx, b, c.value()+1)
	case "-", "dec":
		return c.send(ctx, b, c.value()-1)
	case "set":
		if len(fields) != 2 {
			return fmt.Errorf("usage: set N")
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid N=%s", fields[1])
		}
		return c.send(ctx, b, n)
	case "show":
		c.mutex.Lock()
		counter := c.counter
		statusKey := c.statusKey
		c.mutex.Unlock()

		c.printf("%s %d %s\n", color.GreenString("counter"), counter, colorStatus(statusKey))
		return nil
	case "quit", "exit":
		return errQuit
	case "help":
		c.printf("%s\n", help)
		return nil
	default:
		return fmt.Errorf("unknown command %q, %s", fields[0], help)
	}
}

func (c *Console) send(ctx context.Context, b *bridge.Bridge, value int64) error {
	args, err := m.ToMap(&m.CounterUpdate{Counter: value})
	if err != nil {
		return err
	}

	// optimistic, like the session itself
	c.mutex.Lock()
	c.counter = value
	c.mutex.Unlock()

	result, err := b.HandleMethodCall(ctx, &bridge.MethodCall{Method: bridge.MethodSendCounter, Arguments: args})
	if err != nil {
		return err
	}

	delivered, _ := result.(bool)
	if !delivered {
		c.printf("%s %d %s\n", color.GreenString("counter"), value, color.YellowString("not delivered"))
		return nil
	}

	c.printf("%s %d\n", color.GreenString("counter"), value)
	return nil
}

func (c *Console) value() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.counter
}

func (c *Console) printf(format string, a ...any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

func colorStatus(statusKey string) string {
	switch statusKey {
	case "connected":
		return color.GreenString(statusKey)
	case "connecting":
		return color.YellowString(statusKey)
	case "error":
		return color.RedString(statusKey)
	default:
		return color.HiBlackString(statusKey)
	}
}
