package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jimmychuckball/pythonmap/scanner"
)

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewTextFormatter(&buf)
	if err := f.Write(scanner.ScanResult{Port: 22, Service: "ssh", Response: "SSH-2.0-OpenSSH_9.6"}); err != nil {
		t.Fatal(err)
	}
	want := "Port 22 is open! (Service: ssh)\nResponse: SSH-2.0-OpenSSH_9.6\n\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(&buf)
	_ = f.Write(scanner.ScanResult{Port: 80, Service: "http"})
	_ = f.Write(scanner.ScanResult{Port: 7000, Service: "unknown", Response: "ECHO-OK"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	var res scanner.ScanResult
	if err := json.Unmarshal([]byte(lines[1]), &res); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, lines[1])
	}
	if res.Port != 7000 || res.Response != "ECHO-OK" {
		t.Errorf("unexpected record %+v", res)
	}
}

type failingFormatter struct{}

func (failingFormatter) Write(scanner.ScanResult) error { return errors.New("disk full") }
func (failingFormatter) Flush() error                   { return nil }

func TestSink_FansOutAndRecordsErrors(t *testing.T) {
	var a, b bytes.Buffer
	sink := NewSink(NewTextFormatter(&a))
	sink.Add(NewJSONFormatter(&b))

	var obs scanner.Observer = sink
	obs.OnResult(443, "https", "")
	obs.OnProgress(1, 1, 100)

	if !strings.Contains(a.String(), "Port 443 is open!") {
		t.Errorf("text sink missing record: %q", a.String())
	}
	if !strings.Contains(b.String(), `"port":443`) {
		t.Errorf("json sink missing record: %q", b.String())
	}
	if sink.Err() != nil {
		t.Fatalf("unexpected error %v", sink.Err())
	}

	sink.Add(failingFormatter{})
	sink.OnResult(8080, "http-alt", "")
	if sink.Err() == nil {
		t.Fatal("expected write failure to be recorded")
	}
}

func TestSaveReport_SortsByPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.txt")
	results := []scanner.ScanResult{
		{Port: 443, Service: "https"},
		{Port: 22, Service: "ssh", Response: "SSH-2.0"},
	}

	if err := SaveReport(path, results, Text); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "Port 22 is open! (Service: ssh)\nResponse: SSH-2.0\n\n" +
		"Port 443 is open! (Service: https)\nResponse: \n\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if results[0].Port != 443 {
		t.Fatal("SaveReport must not reorder the caller's slice")
	}
}

func TestWriteAtomic_OverwriteAndPreserve(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.txt")

	if err := os.WriteFile(final, []byte("original"), 0o644); err != nil {
		t.Fatalf("setup write original: %v", err)
	}

	if err := WriteAtomic(final, []byte("newcontent")); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if string(got) != "newcontent" {
		t.Fatalf("content mismatch: %q", string(got))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, found %d entries", len(entries))
	}
}
