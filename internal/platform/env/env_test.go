package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestString_DefaultWhenUnsetOrBlank(t *testing.T) {
	t.Setenv("PIPESTACK_ENV_BLANK", "   ")
	if got := String("PIPESTACK_ENV_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	if got := String("PIPESTACK_ENV_DOES_NOT_EXIST", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("PIPESTACK_ENV_STRING", " value ")
	if got := String("PIPESTACK_ENV_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestPath_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	t.Setenv("PIPESTACK_ENV_PATH", "~/pipestack/config")
	got, err := Path("PIPESTACK_ENV_PATH", "")
	if err != nil {
		t.Fatalf("Path() err=%v", err)
	}
	want := filepath.Join(home, "pipestack", "config")
	if got != want {
		t.Fatalf("Path()=%q, want %q", got, want)
	}
}

func TestList(t *testing.T) {
	t.Setenv("PIPESTACK_ENV_LIST", "a, b,,c ")
	got := List("PIPESTACK_ENV_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("List()=%v, want [a b c]", got)
	}
	def := List("PIPESTACK_ENV_LIST_MISSING", []string{"x"})
	if len(def) != 1 || def[0] != "x" {
		t.Fatalf("List() default=%v", def)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("PIPESTACK_ENV_DURATION_MISSING", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration() default=%v err=%v", got, err)
	}
	t.Setenv("PIPESTACK_ENV_DURATION", "250ms")
	got, err = Duration("PIPESTACK_ENV_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("PIPESTACK_ENV_DURATION_BAD", "soon")
	if _, err := Duration("PIPESTACK_ENV_DURATION_BAD", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("PIPESTACK_ENV_BOOL", "false")
	got, err := Bool("PIPESTACK_ENV_BOOL", true)
	if err != nil || got {
		t.Fatalf("Bool()=%v err=%v, want false", got, err)
	}
	t.Setenv("PIPESTACK_ENV_BOOL_BAD", "nope")
	if _, err := Bool("PIPESTACK_ENV_BOOL_BAD", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("PIPESTACK_ENV_INT", "7")
	got, err := Int("PIPESTACK_ENV_INT", 42)
	if err != nil || got != 7 {
		t.Fatalf("Int()=%v err=%v, want 7", got, err)
	}
	t.Setenv("PIPESTACK_ENV_INT_BAD", "seven")
	if _, err := Int("PIPESTACK_ENV_INT_BAD", 42); err == nil {
		t.Fatalf("Int() expected error")
	}
}
