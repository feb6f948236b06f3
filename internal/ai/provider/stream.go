package provider

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const maxSSELine = 1 << 20

var errStreamDone = errors.New("stream done")

// readSSE calls fn with the data payload of every server-sent event until the
// body ends or a "[DONE]" sentinel arrives.
func readSSE(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var data bytes.Buffer
	dispatch := func() error {
		if data.Len() == 0 {
			return nil
		}
		payload := bytes.TrimSpace(data.Bytes())
		data.Reset()
		if string(payload) == "[DONE]" {
			return errStreamDone
		}
		return fn(payload)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return ignoreDone(err)
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ignoreDone(dispatch())
}

func ignoreDone(err error) error {
	if errors.Is(err, errStreamDone) {
		return nil
	}
	return err
}
