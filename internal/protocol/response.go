package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Response is a status code with an optional JSON body.
type Response struct {
	Status int
	Body   []byte
}

// Empty returns a response without body.
func Empty(status int) Response {
	return Response{Status: status}
}

// JSON returns a response whose body is v encoded as JSON.
func JSON(status int, v any) (Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal response body: %w", err)
	}
	return Response{Status: status, Body: body}, nil
}

// WriteTo serializes the response: status line, connection and content headers,
// a blank line, then the body followed by CRLF when it is non-empty.
// The trailing CRLF is not counted in Content-Length.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d\r\n", r.Status)
	buf.WriteString("Connection: close\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(r.Body))
	buf.WriteString("Content-Type: application/json\r\n")
	buf.WriteString("\r\n")
	if len(r.Body) > 0 {
		buf.Write(r.Body)
		buf.WriteString("\r\n")
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
