// Package protocol implements the line-oriented request/response protocol spoken over the
// serial link: an incremental request parser and the response encoder.
package protocol

import (
	"bytes"
	"errors"
	"strconv"
)

// Method is the request method.
type Method int

const (
	MethodGet Method = iota
	MethodPut
)

// String returns the wire name of the method.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPut:
		return "PUT"
	default:
		return "UNKNOWN"
	}
}

// Limits
const (
	MaxBodySize          = 100
	DefaultMaxLineLength = 256
)

const contentLengthPrefix = "Content-Length: "

// ErrLineTooLong is returned when a line exceeds the parser's line buffer.
// The partial request is dropped up to its terminator, or up to the next request line
// if that comes first.
var ErrLineTooLong = errors.New("protocol: line too long")

// Request is a completed request.
type Request struct {
	Method        Method
	Path          string
	ContentLength int
	Body          []byte
}

// Result is one outcome of Feed: a completed request, or Err when the input at
// that point of the stream could not be parsed.
type Result struct {
	Request Request
	Err     error
}

// parseState is the accumulation state of the parser.
type parseState int

const (
	stateAwaitingLine parseState = iota
	stateAwaitingBody
	stateDiscardingLine
)

// Parser assembles requests from a byte stream fed incrementally.
// It never blocks: callers push whatever bytes are available and collect
// the requests that completed.
type Parser struct {
	maxLine int
	state   parseState
	line    []byte

	method        Method
	path          string
	contentLength int

	body      []byte
	remaining int

	// dropping is set after an overflow until the dropped request ends
	dropping bool
}

// NewParser creates a parser with the given line buffer capacity.
// A non-positive maxLine selects DefaultMaxLineLength.
func NewParser(maxLine int) *Parser {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Parser{
		maxLine: maxLine,
		line:    make([]byte, 0, maxLine),
	}
}

// Feed consumes data and returns the completed requests and line overflows in
// the order they occur in the stream.
func (p *Parser) Feed(data []byte) []Result {
	var results []Result

	for _, b := range data {
		req, done, err := p.push(b)
		switch {
		case err != nil:
			results = append(results, Result{Err: err})
		case done:
			results = append(results, Result{Request: req})
		}
	}

	return results
}

// Pending reports whether a request is partially accumulated.
func (p *Parser) Pending() bool {
	return p.state != stateAwaitingLine || len(p.line) > 0 || p.path != "" || p.dropping
}

// Expire completes a request whose body stopped arriving, with the bytes
// received so far. It reports false unless the parser is waiting for a body.
func (p *Parser) Expire() (Request, bool) {
	if p.state != stateAwaitingBody {
		return Request{}, false
	}
	return p.complete(), true
}

// push consumes a single byte.
func (p *Parser) push(b byte) (Request, bool, error) {
	switch p.state {
	case stateAwaitingBody:
		return p.pushBody(b)

	case stateDiscardingLine:
		if b == '\n' {
			p.state = stateAwaitingLine
			p.dropping = true
		}
		return Request{}, false, nil
	}

	if b != '\n' {
		if len(p.line) >= p.maxLine {
			p.line = p.line[:0]
			p.resetRequest()
			p.state = stateDiscardingLine
			return Request{}, false, ErrLineTooLong
		}
		p.line = append(p.line, b)
		return Request{}, false, nil
	}

	line := bytes.TrimSuffix(p.line, []byte{'\r'})
	p.line = p.line[:0]
	return p.handleLine(line)
}

// handleLine interprets a complete line with the record separator stripped.
func (p *Parser) handleLine(line []byte) (Request, bool, error) {
	if p.dropping {
		if !isRequestLine(line) {
			p.dropping = len(line) != 0
			return Request{}, false, nil
		}
		p.dropping = false
	}

	switch {
	case bytes.HasPrefix(line, []byte(contentLengthPrefix)):
		p.contentLength = parseLeadingInt(line[len(contentLengthPrefix):])

	case bytes.HasPrefix(line, []byte("GET")):
		p.method = MethodGet
		p.path = parsePath(line)

	case bytes.HasPrefix(line, []byte("PUT")):
		p.method = MethodPut
		p.path = parsePath(line)

	case len(line) == 0:
		// End of headers
		if p.method == MethodPut && p.contentLength > 0 {
			p.state = stateAwaitingBody
			p.remaining = min(p.contentLength, MaxBodySize)
			p.body = make([]byte, 0, p.remaining)
			return Request{}, false, nil
		}
		return p.complete(), true, nil
	}

	return Request{}, false, nil
}

// pushBody collects min(Content-Length, MaxBodySize) body bytes. Anything the
// peer sends beyond that is parsed as lines again.
func (p *Parser) pushBody(b byte) (Request, bool, error) {
	p.body = append(p.body, b)
	p.remaining--
	if p.remaining > 0 {
		return Request{}, false, nil
	}
	return p.complete(), true, nil
}

// complete returns the accumulated request and resets for the next one.
func (p *Parser) complete() Request {
	req := Request{
		Method:        p.method,
		Path:          p.path,
		ContentLength: p.contentLength,
		Body:          p.body,
	}
	p.resetRequest()
	p.state = stateAwaitingLine
	return req
}

// resetRequest clears the per-request fields.
func (p *Parser) resetRequest() {
	p.method = MethodGet
	p.path = ""
	p.contentLength = 0
	p.body = nil
	p.remaining = 0
}

func isRequestLine(line []byte) bool {
	return bytes.HasPrefix(line, []byte("GET")) || bytes.HasPrefix(line, []byte("PUT"))
}

// parsePath returns the token between the first and second space, or up to the end
// of the line when there is no second space.
func parsePath(line []byte) string {
	first := bytes.IndexByte(line, ' ')
	if first < 0 {
		return ""
	}
	rest := line[first+1:]
	if end := bytes.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	return string(rest)
}

// parseLeadingInt parses an optionally signed decimal prefix, skipping leading blanks.
// Anything unparsable or negative yields 0.
func parseLeadingInt(b []byte) int {
	b = bytes.TrimLeft(b, " \t")
	end := 0
	if end < len(b) && (b[end] == '+' || b[end] == '-') {
		end++
	}
	for end < len(b) && b[end] >= '0' && b[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(string(b[:end]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
