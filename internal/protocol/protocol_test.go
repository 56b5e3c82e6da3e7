package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, p *Parser, input string) []Request {
	t.Helper()
	var reqs []Request
	for _, r := range p.Feed([]byte(input)) {
		if r.Err != nil {
			t.Fatalf("Feed() error = %v", r.Err)
		}
		reqs = append(reqs, r.Request)
	}
	return reqs
}

func TestParser_GetRequest(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "GET /leds HTTP/1.1\r\nHost: tower\r\nAccept: */*\r\n\r\n")

	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Method != MethodGet || req.Path != "/leds" {
		t.Errorf("request = %s %q, want GET /leds", req.Method, req.Path)
	}
	if req.ContentLength != 0 || len(req.Body) != 0 {
		t.Errorf("request body = %d/%q, want empty", req.ContentLength, req.Body)
	}
	if p.Pending() {
		t.Error("Pending() = true after complete request")
	}
}

func TestParser_PutRequestWithBody(t *testing.T) {
	p := NewParser(0)
	body := `{"green":true}`
	input := "PUT /leds HTTP/1.1\r\nContent-Length: 14\r\n\r\n" + body

	reqs := feedAll(t, p, input)
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Method != MethodPut || reqs[0].Path != "/leds" {
		t.Errorf("request = %s %q, want PUT /leds", reqs[0].Method, reqs[0].Path)
	}
	if string(reqs[0].Body) != body {
		t.Errorf("Body = %q, want %q", reqs[0].Body, body)
	}
}

func TestParser_IncrementalFeed(t *testing.T) {
	p := NewParser(0)
	input := "PUT /settings HTTP/1.1\r\nContent-Length: 17\r\n\r\n{\"threshold\":120}"

	var reqs []Request
	for i := 0; i < len(input); i++ {
		got := feedAll(t, p, input[i:i+1])
		if len(got) > 0 && i != len(input)-1 {
			t.Fatalf("request completed early at byte %d", i)
		}
		reqs = append(reqs, got...)
		if i < len(input)-1 && !p.Pending() {
			t.Fatalf("Pending() = false mid-request at byte %d", i)
		}
	}

	if len(reqs) != 1 || string(reqs[0].Body) != `{"threshold":120}` {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestParser_HeaderLinesWithoutCarriageReturn(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "PUT /leds HTTP/1.1\nContent-Length: 2\n\n{}")

	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Path != "/leds" || string(reqs[0].Body) != "{}" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestParser_PathVariants(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		method   Method
		expected string
	}{
		{name: "with_version", line: "GET /sensors HTTP/1.1", method: MethodGet, expected: "/sensors"},
		{name: "no_version", line: "GET /sensors", method: MethodGet, expected: "/sensors"},
		{name: "query_kept", line: "GET /leds?x=1 HTTP/1.1", method: MethodGet, expected: "/leds?x=1"},
		{name: "put", line: "PUT /reset HTTP/1.1", method: MethodPut, expected: "/reset"},
		{name: "no_space", line: "GET", method: MethodGet, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(0)
			reqs := feedAll(t, p, tt.line+"\r\n\r\n")
			if len(reqs) != 1 {
				t.Fatalf("got %d requests, want 1", len(reqs))
			}
			if reqs[0].Method != tt.method || reqs[0].Path != tt.expected {
				t.Errorf("request = %s %q, want %s %q", reqs[0].Method, reqs[0].Path, tt.method, tt.expected)
			}
		})
	}
}

func TestParser_PutWithoutContentLength(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "PUT /leds HTTP/1.1\r\n\r\n")

	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if len(reqs[0].Body) != 0 {
		t.Errorf("Body = %q, want empty", reqs[0].Body)
	}
}

func TestParser_BodyCappedAtMaxBodySize(t *testing.T) {
	p := NewParser(0)
	body := strings.Repeat("a", MaxBodySize)
	input := "PUT /leds HTTP/1.1\r\nContent-Length: 150\r\n\r\n" + body + "GET /leds HTTP/1.1\r\n\r\n"

	reqs := feedAll(t, p, input)
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if len(reqs[0].Body) != MaxBodySize {
		t.Errorf("len(Body) = %d, want %d", len(reqs[0].Body), MaxBodySize)
	}
	if reqs[0].ContentLength != 150 {
		t.Errorf("ContentLength = %d, want 150", reqs[0].ContentLength)
	}
	if reqs[1].Method != MethodGet || reqs[1].Path != "/leds" {
		t.Errorf("second request = %s %q, want GET /leds", reqs[1].Method, reqs[1].Path)
	}
}

func TestParser_BytesBeyondCapParsedAsLines(t *testing.T) {
	p := NewParser(0)
	input := "PUT /leds\r\nContent-Length: 120\r\n\r\n" + strings.Repeat("b", MaxBodySize) +
		"tail of body\r\n\r\nGET /sensors\r\n\r\n"

	reqs := feedAll(t, p, input)
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3: %+v", len(reqs), reqs)
	}
	if len(reqs[0].Body) != MaxBodySize {
		t.Errorf("len(Body) = %d, want %d", len(reqs[0].Body), MaxBodySize)
	}
	// The leftover line carries no request line, so its terminator yields an empty path.
	if reqs[1].Path != "" {
		t.Errorf("leftover request path = %q, want empty", reqs[1].Path)
	}
	if reqs[2].Path != "/sensors" {
		t.Errorf("third path = %q, want /sensors", reqs[2].Path)
	}
}

func TestParser_ExpireCompletesShortBody(t *testing.T) {
	p := NewParser(0)
	if got := feedAll(t, p, "PUT /leds\r\nContent-Length: 500\r\n\r\n{\"green\":true}"); len(got) != 0 {
		t.Fatalf("requests = %+v, want none before expiry", got)
	}
	if !p.Pending() {
		t.Fatal("Pending() = false while awaiting body")
	}

	req, ok := p.Expire()
	if !ok {
		t.Fatal("Expire() = false while awaiting body")
	}
	if req.Path != "/leds" || string(req.Body) != `{"green":true}` {
		t.Errorf("expired request = %+v", req)
	}
	if p.Pending() {
		t.Error("Pending() = true after Expire()")
	}
	if _, ok := p.Expire(); ok {
		t.Error("Expire() = true with nothing pending")
	}

	reqs := feedAll(t, p, "GET /leds\r\n\r\n")
	if len(reqs) != 1 || reqs[0].Path != "/leds" {
		t.Errorf("requests after expiry = %+v", reqs)
	}
}

func TestParser_ExpireIgnoresPartialHeaders(t *testing.T) {
	p := NewParser(0)
	feedAll(t, p, "GET /le")
	if _, ok := p.Expire(); ok {
		t.Error("Expire() completed a request without a body")
	}
	if reqs := feedAll(t, p, "ds\r\n\r\n"); len(reqs) != 1 || reqs[0].Path != "/leds" {
		t.Errorf("requests = %+v, want GET /leds", reqs)
	}
}

func TestParser_ContentLengthResetsBetweenRequests(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "PUT /leds HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}PUT /leds HTTP/1.1\r\n\r\n")

	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[1].ContentLength != 0 || len(reqs[1].Body) != 0 {
		t.Errorf("second request = %+v, want no body", reqs[1])
	}
}

func TestParser_GetIgnoresContentLength(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "GET /leds HTTP/1.1\r\nContent-Length: 5\r\n\r\nGET /sensors HTTP/1.1\r\n\r\n")

	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[1].Path != "/sensors" {
		t.Errorf("second path = %q, want /sensors", reqs[1].Path)
	}
}

func TestParser_TerminatorWithoutRequestLine(t *testing.T) {
	p := NewParser(0)
	reqs := feedAll(t, p, "GET /leds HTTP/1.1\r\n\r\n\r\n")

	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[1].Path != "" {
		t.Errorf("stray terminator path = %q, want empty", reqs[1].Path)
	}
}

func TestParser_LineTooLong(t *testing.T) {
	p := NewParser(32)
	input := "GET /leds HTTP/1.1\r\n" + "X-Junk: " + strings.Repeat("z", 64) + "\r\nAccept: */*\r\n\r\nGET /sensors\r\n\r\n"

	results := p.Feed([]byte(input))

	// The overflowing request is dropped through its terminator.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if !errors.Is(results[0].Err, ErrLineTooLong) {
		t.Errorf("first result error = %v, want ErrLineTooLong", results[0].Err)
	}
	if results[1].Err != nil || results[1].Request.Path != "/sensors" {
		t.Errorf("second result = %+v, want GET /sensors", results[1])
	}
	if p.Pending() {
		t.Error("Pending() = true after resync")
	}
}

func TestParser_LineTooLongResyncsOnRequestLine(t *testing.T) {
	p := NewParser(32)
	input := strings.Repeat("q", 40) + "\nPUT /leds\r\nContent-Length: 2\r\n\r\n{}"

	results := p.Feed([]byte(input))
	if len(results) != 2 || !errors.Is(results[0].Err, ErrLineTooLong) {
		t.Fatalf("results = %+v, want overflow then PUT /leds", results)
	}
	if req := results[1].Request; req.Method != MethodPut || string(req.Body) != "{}" {
		t.Fatalf("request = %+v, want PUT /leds {}", req)
	}
}

func TestParser_OverflowsReportedInStreamOrder(t *testing.T) {
	p := NewParser(24)
	input := "GET /leds\r\n\r\n" +
		"GET /" + strings.Repeat("x", 30) + "\r\n\r\n" +
		"GET /" + strings.Repeat("y", 30) + "\r\n\r\n" +
		"GET /sensors\r\n\r\n"

	results := p.Feed([]byte(input))
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4: %+v", len(results), results)
	}
	if results[0].Err != nil || results[0].Request.Path != "/leds" {
		t.Errorf("results[0] = %+v, want GET /leds", results[0])
	}
	for _, i := range []int{1, 2} {
		if !errors.Is(results[i].Err, ErrLineTooLong) {
			t.Errorf("results[%d] error = %v, want ErrLineTooLong", i, results[i].Err)
		}
	}
	if results[3].Err != nil || results[3].Request.Path != "/sensors" {
		t.Errorf("results[3] = %+v, want GET /sensors", results[3])
	}
}

func TestParseLeadingInt(t *testing.T) {
	tests := []struct {
		in       string
		expected int
	}{
		{in: "42", expected: 42},
		{in: " 7", expected: 7},
		{in: "12abc", expected: 12},
		{in: "-3", expected: 0},
		{in: "abc", expected: 0},
		{in: "", expected: 0},
		{in: "99999999999999999999999", expected: 0},
	}

	for _, tt := range tests {
		if got := parseLeadingInt([]byte(tt.in)); got != tt.expected {
			t.Errorf("parseLeadingInt(%q) = %d, want %d", tt.in, got, tt.expected)
		}
	}
}

func TestResponse_WriteToEmpty(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Empty(404).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	want := "HTTP/1.1 404\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 0\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n"
	if buf.String() != want {
		t.Errorf("WriteTo() = %q, want %q", buf.String(), want)
	}
}

func TestResponse_WriteToJSON(t *testing.T) {
	resp, err := JSON(200, struct {
		Ambient int `json:"ambient"`
	}{Ambient: 87})
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var buf bytes.Buffer
	n, err := resp.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if int(n) != buf.Len() {
		t.Errorf("WriteTo() n = %d, want %d", n, buf.Len())
	}

	want := "HTTP/1.1 200\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 14\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{\"ambient\":87}\r\n"
	if buf.String() != want {
		t.Errorf("WriteTo() = %q, want %q", buf.String(), want)
	}
}
