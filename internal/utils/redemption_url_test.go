package utils

import (
	"regexp"
	"strings"
	"testing"
)

func hasError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestParseRedemptionURLShapes(t *testing.T) {
	inputs := []string{
		"https://h2all.example.com/redeem?campaign_id=123&code=ABC123",
		"/redeem?campaign_id=123&code=ABC123",
		"?campaign_id=123&code=ABC123",
		"campaign_id=123&code=ABC123",
	}
	for _, in := range inputs {
		res := ParseRedemptionURL(in)
		if !res.IsValid {
			t.Errorf("ParseRedemptionURL(%q) should be valid, errors: %v", in, res.Errors)
			continue
		}
		if res.CampaignID != "123" || res.UniqueCode != "ABC123" {
			t.Errorf("ParseRedemptionURL(%q) = (%s, %s), expected (123, ABC123)", in, res.CampaignID, res.UniqueCode)
		}
	}
}

func TestParseRedemptionURLRejectsLowercaseCode(t *testing.T) {
	res := ParseRedemptionURL("/redeem?campaign_id=123&code=abc123")
	if res.IsValid {
		t.Fatal("lowercase code should be rejected")
	}
	if !hasError(res.Errors, "invalid code format") {
		t.Errorf("expected invalid code format error, got %v", res.Errors)
	}

	res = ParseRedemptionURL("/redeem?campaign_id=123&code=abc123", WithoutFormatValidation())
	if !res.IsValid {
		t.Errorf("lowercase code should pass without format validation, errors: %v", res.Errors)
	}
}

func TestParseRedemptionURLMissingParams(t *testing.T) {
	res := ParseRedemptionURL("/redeem?campaign_id=123")
	if res.IsValid || !hasError(res.Errors, "missing required parameter: code") {
		t.Errorf("expected missing code error, got valid=%v errors=%v", res.IsValid, res.Errors)
	}
	if hasError(res.Errors, "campaign_id") {
		t.Errorf("campaign_id should not be reported, got %v", res.Errors)
	}

	res = ParseRedemptionURL("/redeem?code=ABC123")
	if res.IsValid || !hasError(res.Errors, "missing required parameter: campaign_id") {
		t.Errorf("expected missing campaign_id error, got valid=%v errors=%v", res.IsValid, res.Errors)
	}

	res = ParseRedemptionURL("/redeem?campaign_id=%20%20&code=ABC123")
	if res.IsValid || !hasError(res.Errors, "missing required parameter: campaign_id") {
		t.Errorf("blank campaign_id should count as missing, got %v", res.Errors)
	}
}

func TestParseRedemptionURLLastValueWins(t *testing.T) {
	res := ParseRedemptionURL("/redeem?campaign_id=first&code=AAAA1111&campaign_id=second")
	if res.CampaignID != "second" {
		t.Errorf("CampaignID = %s, expected second", res.CampaignID)
	}
}

func TestParseRedemptionURLExtraParams(t *testing.T) {
	raw := "/redeem?campaign_id=camp-1&code=ABCD2345&utm_source=email&ref=friend"
	res := ParseRedemptionURL(raw)
	if !res.IsValid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if res.ExtraParams["utm_source"] != "email" || res.ExtraParams["ref"] != "friend" {
		t.Errorf("ExtraParams = %v", res.ExtraParams)
	}
	if _, ok := res.ExtraParams[ParamCode]; ok {
		t.Error("reserved parameters must not appear in ExtraParams")
	}

	res = ParseRedemptionURL(raw, WithoutExtraParams())
	if len(res.ExtraParams) != 0 {
		t.Errorf("ExtraParams should be empty, got %v", res.ExtraParams)
	}
}

func TestParseRedemptionURLCustomPatterns(t *testing.T) {
	res := ParseRedemptionURL("/redeem?campaign_id=123&code=AB",
		WithCodePattern(regexp.MustCompile(`^[A-Z]{2}$`)),
		WithCampaignIDPattern(regexp.MustCompile(`^\d+$`)))
	if !res.IsValid {
		t.Errorf("expected valid with custom patterns, errors: %v", res.Errors)
	}
}

func TestParseRedemptionURLMalformed(t *testing.T) {
	for _, in := range []string{"", "   ", "http://[::1"} {
		res := ParseRedemptionURL(in)
		if res.IsValid {
			t.Errorf("ParseRedemptionURL(%q) should be invalid", in)
		}
		if !hasError(res.Errors, "failed to parse URL") {
			t.Errorf("ParseRedemptionURL(%q) errors = %v, expected a parse error", in, res.Errors)
		}
	}

	res := ParseRedemptionURL("/redeem?campaign_id=%zz&code=ABC123")
	if res.IsValid || !hasError(res.Errors, "missing required parameter: campaign_id") {
		t.Errorf("badly escaped campaign_id should count as missing, got valid=%v errors=%v", res.IsValid, res.Errors)
	}
}

func TestParseRedemptionURLToleratesBadPassthroughParams(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		extra map[string]string
	}{
		{"stray percent", "/redeem?campaign_id=123&code=ABC123&ref=100%", nil},
		{"semicolon", "/redeem?campaign_id=123&code=ABC123&utm_content=a;b", nil},
		{"bad escape before params", "/redeem?ref=%zz&campaign_id=123&code=ABC123&utm_source=mail", map[string]string{"utm_source": "mail"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseRedemptionURL(tt.raw)
			if !res.IsValid {
				t.Fatalf("expected valid, errors: %v", res.Errors)
			}
			if res.CampaignID != "123" || res.UniqueCode != "ABC123" {
				t.Errorf("got (%s, %s), expected (123, ABC123)", res.CampaignID, res.UniqueCode)
			}
			for k, v := range tt.extra {
				if res.ExtraParams[k] != v {
					t.Errorf("ExtraParams[%s] = %q, expected %q", k, res.ExtraParams[k], v)
				}
			}
		})
	}

	res := ParseCampaignURL("/redeem?campaign_id=123&code=ABC123&ref=100%&utm_source=sms")
	if !res.IsValid || res.UTMParams.Source != "sms" {
		t.Errorf("UTM should survive a bad passthrough param, got valid=%v utm=%+v", res.IsValid, res.UTMParams)
	}
}

func TestParseCampaignURLUTM(t *testing.T) {
	res := ParseCampaignURL("/redeem?campaign_id=camp-1&code=ABCD2345&utm_source=newsletter&utm_medium=email&utm_content=hero")
	want := UTMParams{Source: "newsletter", Medium: "email", Content: "hero"}
	if res.UTMParams != want {
		t.Errorf("UTMParams = %+v, expected %+v", res.UTMParams, want)
	}

	res = ParseCampaignURL("/redeem?campaign_id=camp-1&code=ABCD2345&utm_source=x", WithoutExtraParams())
	if res.UTMParams.Source != "x" {
		t.Errorf("UTM should be read even without extra params, got %+v", res.UTMParams)
	}
}

func TestBuildRedemptionURL(t *testing.T) {
	got, err := BuildRedemptionURL("https://h2all.example.com/redeem", "camp-1", "ABCD2345",
		map[string]string{"utm_source": "sms", "code": "IGNORED"})
	if err != nil {
		t.Fatalf("BuildRedemptionURL should not return an error: %v", err)
	}
	want := "https://h2all.example.com/redeem?campaign_id=camp-1&code=ABCD2345&utm_source=sms"
	if got != want {
		t.Errorf("BuildRedemptionURL = %s, expected %s", got, want)
	}

	res := ParseCampaignURL(got)
	if !res.IsValid || res.CampaignID != "camp-1" || res.UniqueCode != "ABCD2345" || res.UTMParams.Source != "sms" {
		t.Errorf("built URL did not parse back: %+v", res)
	}

	if _, err := BuildRedemptionURL("://bad", "camp-1", "ABCD2345", nil); err == nil {
		t.Error("BuildRedemptionURL should reject an invalid base")
	}
}
