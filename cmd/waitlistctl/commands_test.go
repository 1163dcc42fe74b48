package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waitlist/api/internal/auth"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "", "validate", "0xde709f2102306220921060314715629080e2fb77")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, `"isValid": true`) {
		t.Fatalf("validate output = %s", out)
	}

	if _, err := run(t, "", "validate", "0x1234"); err == nil {
		t.Fatal("validate accepted a short address")
	}
}

func TestHashAdminKeyCommand(t *testing.T) {
	out, err := run(t, "correct horse\n", "hash-admin-key")
	if err != nil {
		t.Fatalf("hash-admin-key error = %v", err)
	}
	if !auth.CheckAdminKey(strings.TrimSpace(out), "correct horse") {
		t.Fatalf("printed hash %q does not match the key", out)
	}
	out, err = run(t, "", "hash-admin-key", "s3cret")
	if err != nil || !auth.CheckAdminKey(strings.TrimSpace(out), "s3cret") {
		t.Fatalf("hash-admin-key with argument: out %q err %v", out, err)
	}
	if _, err := run(t, "\n", "hash-admin-key"); err == nil {
		t.Fatal("hash-admin-key accepted an empty key")
	}
}

func TestFlagChecksRunBeforeConnecting(t *testing.T) {
	cases := [][]string{
		{"get"},
		{"get", "--spot", "3", "--wallet", "0xabc"},
		{"clear"},
		{"add", "--wallet", "0x12", "--name", "x", "--spot", "1"},
		{"snapshot", "--width", "0"},
	}
	for _, args := range cases {
		if _, err := run(t, "", args...); err == nil {
			t.Fatalf("%v succeeded without a registry", args)
		}
	}
}

func TestWritePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 0xff, A: 0xff})

	path := filepath.Join(t.TempDir(), "globe.png")
	if err := writePNG(path, img); err != nil {
		t.Fatalf("writePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", got.Bounds(), img.Bounds())
	}
	if r, _, _, _ := got.At(1, 1).RGBA(); r != 0xffff {
		t.Fatalf("pixel red = %#x", r)
	}

	if err := writePNG(filepath.Join(t.TempDir(), "missing", "globe.png"), img); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
