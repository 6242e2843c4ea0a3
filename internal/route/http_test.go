package route

import "testing"

func TestRequest_HeaderFoldsToUpper(t *testing.T) {
	r := Request{Headers: map[string]string{"CONTENT-TYPE": "text/plain"}}
	v, ok := r.Header("content-type")
	if !ok || v != "text/plain" {
		t.Fatalf("expected folded header lookup to succeed, got %q, %v", v, ok)
	}
}

func TestNewResponse_SetsStandardHeaders(t *testing.T) {
	resp := NewResponse(200, "text/plain", []byte("hi"))
	if resp.Headers["Server"] != "Psionic 0.0.1" {
		t.Fatalf("unexpected Server header: %q", resp.Headers["Server"])
	}
	if resp.Headers["Content-Length"] != "2" {
		t.Fatalf("unexpected Content-Length: %q", resp.Headers["Content-Length"])
	}
	if resp.Headers["Connection"] != "Closed" {
		t.Fatalf("unexpected Connection header: %q", resp.Headers["Connection"])
	}
}

func TestReasonPhrase_KnownAndUnknownCodes(t *testing.T) {
	cases := map[int]string{
		200: "OK",
		201: "Created",
		400: "Bad Request",
		404: "Not Found",
		405: "Method Not Allowed",
		413: "Payload Too Large",
		500: "Internal Error",
		503: "Service Unavailable",
		999: "Unknown",
	}
	for code, want := range cases {
		if got := ReasonPhrase(code); got != want {
			t.Errorf("ReasonPhrase(%d) = %q, want %q", code, got, want)
		}
	}
}
