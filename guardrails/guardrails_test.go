package guardrails

import (
	"strings"
	"testing"
)

func TestValidateResponseRedactsPIIAndCredentials(t *testing.T) {
	res := ValidateResponse("Your password: hunter2 and email foo@bar.com")

	if res.IsSafe {
		t.Fatal("expected IsSafe=false")
	}
	if res.SafetyLevel != RiskHigh && res.SafetyLevel != RiskCritical {
		t.Fatalf("safety level = %v, want HIGH or CRITICAL", res.SafetyLevel)
	}
	if strings.Contains(res.FilteredOutput, "hunter2") {
		t.Fatalf("filtered output still contains secret: %q", res.FilteredOutput)
	}
	if strings.Contains(res.FilteredOutput, "foo@bar.com") {
		t.Fatalf("filtered output still contains email: %q", res.FilteredOutput)
	}
	if !res.PIIDetected {
		t.Fatal("expected PIIDetected=true")
	}
}

func TestValidateResponseWhitespaceVariants(t *testing.T) {
	cases := []string{
		"call me at 555-123-4567",
		"call me at 555.123.4567",
		"call me at 555 123 4567",
		"SSN on file: 123-45-6789",
	}
	for _, c := range cases {
		res := ValidateResponse(c)
		if res.IsSafe {
			t.Errorf("expected violation for %q", c)
		}
	}
}

func TestValidateResponseSafeText(t *testing.T) {
	res := ValidateResponse("The capital of France is Paris.")
	if !res.IsSafe {
		t.Fatalf("expected safe response, got violations: %+v", res.Violations)
	}
	if res.SafetyLevel != RiskSafe {
		t.Fatalf("safety level = %v, want SAFE", res.SafetyLevel)
	}
	if res.FilteredOutput != "The capital of France is Paris." {
		t.Fatalf("unexpected mutation of safe text: %q", res.FilteredOutput)
	}
}

func TestValidateResponseSQLPattern(t *testing.T) {
	res := ValidateResponse("Try: SELECT * FROM users WHERE id=1 UNION SELECT password FROM admins")
	if res.IsSafe {
		t.Fatal("expected SQL-shaped fragment to trigger a violation")
	}
}
