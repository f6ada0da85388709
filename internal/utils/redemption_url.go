package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	ParamCampaignID = "campaign_id"
	ParamCode       = "code"

	placeholderOrigin = "http://localhost"
)

var (
	DefaultCampaignIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)
	DefaultCodePattern       = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)
)

type urlParserConfig struct {
	validateFormat    bool
	allowExtraParams  bool
	campaignIDPattern *regexp.Regexp
	codePattern       *regexp.Regexp
}

// URLOption tweaks ParseRedemptionURL.
type URLOption func(*urlParserConfig)

func WithoutFormatValidation() URLOption {
	return func(c *urlParserConfig) { c.validateFormat = false }
}

func WithoutExtraParams() URLOption {
	return func(c *urlParserConfig) { c.allowExtraParams = false }
}

func WithCampaignIDPattern(re *regexp.Regexp) URLOption {
	return func(c *urlParserConfig) { c.campaignIDPattern = re }
}

func WithCodePattern(re *regexp.Regexp) URLOption {
	return func(c *urlParserConfig) { c.codePattern = re }
}

// UTMParams are the attribution parameters carried through redemption.
type UTMParams struct {
	Source  string `json:"source,omitempty"`
	Medium  string `json:"medium,omitempty"`
	Content string `json:"content,omitempty"`
}

func (u UTMParams) IsZero() bool {
	return u.Source == "" && u.Medium == "" && u.Content == ""
}

type URLParseResult struct {
	IsValid     bool              `json:"isValid"`
	CampaignID  string            `json:"campaignId,omitempty"`
	UniqueCode  string            `json:"uniqueCode,omitempty"`
	ExtraParams map[string]string `json:"extraParams,omitempty"`
	UTMParams   UTMParams         `json:"utmParams"`
	Errors      []string          `json:"errors,omitempty"`
}

// normalizeURL turns path+query, bare "?query" and bare "a=b&c=d" input into
// something url.Parse accepts as absolute.
func normalizeURL(raw string) string {
	switch {
	case strings.Contains(raw, "://"):
		return raw
	case strings.HasPrefix(raw, "/"):
		return placeholderOrigin + raw
	case strings.HasPrefix(raw, "?"):
		return placeholderOrigin + "/" + raw
	default:
		return placeholderOrigin + "/?" + raw
	}
}

// lastValue mirrors URLSearchParams semantics: the last occurrence wins.
func lastValue(values url.Values, key string) string {
	v := values[key]
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// ParseRedemptionURL extracts campaign_id and code from a redemption link.
// It never panics; malformed input is reported through Errors.
func ParseRedemptionURL(raw string, opts ...URLOption) URLParseResult {
	cfg := urlParserConfig{
		validateFormat:    true,
		allowExtraParams:  true,
		campaignIDPattern: DefaultCampaignIDPattern,
		codePattern:       DefaultCodePattern,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	result := URLParseResult{}
	if strings.TrimSpace(raw) == "" {
		result.Errors = append(result.Errors, "failed to parse URL: empty input")
		return result
	}

	u, err := url.Parse(normalizeURL(strings.TrimSpace(raw)))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to parse URL: %v", err))
		return result
	}
	// ParseQuery keeps every well-formed pair even when it reports an error,
	// so a malformed passthrough parameter does not hide campaign_id or code.
	values, _ := url.ParseQuery(u.RawQuery)

	result.CampaignID = strings.TrimSpace(lastValue(values, ParamCampaignID))
	result.UniqueCode = strings.TrimSpace(lastValue(values, ParamCode))

	if result.CampaignID == "" {
		result.Errors = append(result.Errors, "missing required parameter: "+ParamCampaignID)
	}
	if result.UniqueCode == "" {
		result.Errors = append(result.Errors, "missing required parameter: "+ParamCode)
	}

	if cfg.validateFormat {
		if result.CampaignID != "" && cfg.campaignIDPattern != nil && !cfg.campaignIDPattern.MatchString(result.CampaignID) {
			result.Errors = append(result.Errors, "invalid campaign_id format")
		}
		if result.UniqueCode != "" && cfg.codePattern != nil && !cfg.codePattern.MatchString(result.UniqueCode) {
			result.Errors = append(result.Errors, "invalid code format")
		}
	}

	if cfg.allowExtraParams {
		for key := range values {
			if key == ParamCampaignID || key == ParamCode {
				continue
			}
			if result.ExtraParams == nil {
				result.ExtraParams = make(map[string]string)
			}
			result.ExtraParams[key] = lastValue(values, key)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ParseCampaignURL is ParseRedemptionURL plus UTM extraction. UTM values are
// read from the query even when extra parameters are disallowed.
func ParseCampaignURL(raw string, opts ...URLOption) URLParseResult {
	result := ParseRedemptionURL(raw, opts...)
	u, err := url.Parse(normalizeURL(strings.TrimSpace(raw)))
	if err != nil {
		return result
	}
	values, _ := url.ParseQuery(u.RawQuery)
	result.UTMParams = UTMParams{
		Source:  lastValue(values, "utm_source"),
		Medium:  lastValue(values, "utm_medium"),
		Content: lastValue(values, "utm_content"),
	}
	return result
}

// BuildRedemptionURL renders a share link. The query is sorted by key.
func BuildRedemptionURL(base, campaignID, code string, extra map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set(ParamCampaignID, campaignID)
	q.Set(ParamCode, code)

	for k, v := range extra {
		if k == ParamCampaignID || k == ParamCode {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
