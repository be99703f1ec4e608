package config

import (
	"os"
	"testing"
)

func TestLoad_MissingPMURL(t *testing.T) {
	_, err := Load([]string{})
	if err == nil {
		t.Fatal("expected an error for a missing PM url")
	}
}

func TestLoad_UnparseablePMURL(t *testing.T) {
	_, err := Load([]string{"://not-a-url"})
	if err == nil {
		t.Fatal("expected an error for an unparseable PM url")
	}
}

func TestLoad_Defaults(t *testing.T) {
	parsed, err := Load([]string{"ws://pm.example.com:8080/feed"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if parsed.ClientsFile != DefaultClientsFile {
		t.Errorf("ClientsFile = %q, want %q", parsed.ClientsFile, DefaultClientsFile)
	}
	if parsed.ListenPort != DefaultListenPort {
		t.Errorf("ListenPort = %d, want %d", parsed.ListenPort, DefaultListenPort)
	}
	if parsed.PollInterval != 30 {
		t.Errorf("PollInterval = %d, want 30", parsed.PollInterval)
	}
	if parsed.PMURL.Host != "pm.example.com:8080" {
		t.Errorf("PMURL.Host = %q", parsed.PMURL.Host)
	}
}

func TestLoad_VerbosityFromRepeatedFlags(t *testing.T) {
	parsed, err := Load([]string{"-v", "-v", "ws://pm.example.com:8080/feed"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if parsed.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", parsed.Verbosity)
	}
}

func TestLoad_EnvOverridesListenPort(t *testing.T) {
	os.Setenv("AGGIE_LISTEN_PORT", "9999")
	defer os.Unsetenv("AGGIE_LISTEN_PORT")

	parsed, err := Load([]string{"ws://pm.example.com:8080/feed"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if parsed.ListenPort != 9999 {
		t.Errorf("ListenPort = %d, want 9999 (from env)", parsed.ListenPort)
	}
}

func TestLoad_FlagWinsOverEnv(t *testing.T) {
	os.Setenv("AGGIE_LISTEN_PORT", "9999")
	defer os.Unsetenv("AGGIE_LISTEN_PORT")

	parsed, err := Load([]string{"-l", "7000", "ws://pm.example.com:8080/feed"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if parsed.ListenPort != 7000 {
		t.Errorf("ListenPort = %d, want 7000 (flag should beat env)", parsed.ListenPort)
	}
}
