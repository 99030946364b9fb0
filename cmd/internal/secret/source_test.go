package secret

import (
	"strings"
	"testing"
)

func fakeEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSourceReadsEnvironment(t *testing.T) {
	src := NewSource("LOTTERY_JWT_SECRET", "signing secret")
	src.lookup = fakeEnv(map[string]string{"LOTTERY_JWT_SECRET": "s3cret"})
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("unexpected secret %q", got)
	}
	src.lookup = fakeEnv(nil)
	if again, _ := src.Get(); again != "s3cret" {
		t.Fatalf("secret was not cached")
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src := NewSource("LOTTERY_JWT_SECRET", "signing secret")
	src.lookup = fakeEnv(map[string]string{"LOTTERY_JWT_SECRET": "   "})
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected blank rejection, got %v", err)
	}
}
