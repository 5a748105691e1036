package app

import (
	"testing"
)

func TestParseCommand_DefaultsToServe(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_Serve(t *testing.T) {
	cmd := ParseCommand([]string{"serve"})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([serve]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_Healthcheck(t *testing.T) {
	cmd := ParseCommand([]string{"healthcheck"})
	if cmd != CommandHealthcheck {
		t.Errorf("ParseCommand([healthcheck]) = %q, want %q", cmd, CommandHealthcheck)
	}
}

func TestParseCommand_HashPassword(t *testing.T) {
	cmd := ParseCommand([]string{"hash-password"})
	if cmd != CommandHashPassword {
		t.Errorf("ParseCommand([hash-password]) = %q, want %q", cmd, CommandHashPassword)
	}
}

func TestParseCommand_UnknownDefaultsToServe(t *testing.T) {
	for _, arg := range []string{"unknown", "worker", "migrate"} {
		if cmd := ParseCommand([]string{arg}); cmd != CommandServe {
			t.Errorf("ParseCommand([%s]) = %q, want %q", arg, cmd, CommandServe)
		}
	}
}

func TestParseCommand_IgnoresExtraArgs(t *testing.T) {
	cmd := ParseCommand([]string{"hash-password", "--flag", "value"})
	if cmd != CommandHashPassword {
		t.Errorf("ParseCommand([hash-password --flag value]) = %q, want %q", cmd, CommandHashPassword)
	}
}
