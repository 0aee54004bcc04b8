package logging

import "testing"

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("secret", "hawk-shared-secret")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("secret value leaked: %q", attr.Value.String())
	}

	attr = MaskField("consumer", "service-a")
	if attr.Value.String() != "service-a" {
		t.Fatalf("allowlisted key should pass through, got %q", attr.Value.String())
	}

	attr = MaskField("mac", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty values should stay empty, got %q", attr.Value.String())
	}
}

func TestRedactionAllowlistExcludesCredentialKeys(t *testing.T) {
	for _, key := range RedactionAllowlist() {
		switch key {
		case "secret", "mac", "authorization", "token":
			t.Fatalf("credential key %q must not be allowlisted", key)
		}
	}
	if !IsAllowlisted("Consumer") {
		t.Fatalf("allowlist lookup should be case-insensitive")
	}
}
