package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

type result struct {
	line string
	err  error
}

// ReadLine reads one line from rd without its line ending. A final line
// without a newline is returned as is; io.EOF is only reported when nothing
// was read. The read is abandoned when ctx is done.
func ReadLine(ctx context.Context, rd io.Reader) (string, error) {
	results := make(chan result, 1)

	go func() {
		line, err := bufio.NewReader(rd).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		results <- result{line: strings.TrimRight(line, "\r\n"), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-results:
		return r.line, r.err
	}
}
