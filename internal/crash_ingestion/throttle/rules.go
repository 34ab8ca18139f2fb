package throttle

import (
	"regexp"
	"strings"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
)

func pct(n int) *int { return &n }

// Always matches any present value.
func Always(*Throttler, interface{}) bool { return true }

// Equals matches string values equal to want.
func Equals(want string) Condition {
	return func(_ *Throttler, v interface{}) bool {
		s, ok := v.(string)
		return ok && s == want
	}
}

// Matches matches string values containing a match for re.
func Matches(re *regexp.Regexp) Condition {
	return func(_ *Throttler, v interface{}) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
}

// CrashCondition adapts a predicate over the whole crash for "*" rules.
func CrashCondition(fn func(t *Throttler, crash domain.RawCrash) bool) Condition {
	return func(t *Throttler, v interface{}) bool {
		crash, ok := v.(domain.RawCrash)
		return ok && fn(t, crash)
	}
}

func str(crash domain.RawCrash, key string) string {
	s, _ := crash.GetString(key)
	return s
}

var versionAlphaBetaSpecial = regexp.MustCompile(`^\d+\.\d+(a|b|esr|pre)`)

// AcceptAllRules accepts every crash.
func AcceptAllRules() []Rule {
	return []Rule{
		{Name: "accept_everything", Key: "*", Condition: Always, Percentage: pct(100)},
	}
}

// MozillaRules is the production rule set. withProducts adds the
// unsupported product rejection.
func MozillaRules(withProducts bool) []Rule {
	rules := []Rule{
		// The browser half of a multi-submission hang is a duplicate.
		{
			Name: "has_hangid_and_browser",
			Key:  "*",
			Condition: CrashCondition(func(_ *Throttler, c domain.RawCrash) bool {
				if str(c, "HangID") == "" {
					return false
				}
				pt, ok := c.GetString("ProcessType")
				return !ok || pt == "browser"
			}),
		},
	}

	if withProducts {
		rules = append(rules, Rule{
			Name: "unsupported_product",
			Key:  "*",
			Condition: CrashCondition(func(t *Throttler, c domain.RawCrash) bool {
				return !t.IsSupportedProduct(str(c, "ProductName"))
			}),
		})
	}

	firefoxChannel := func(channel string) Condition {
		return CrashCondition(func(_ *Throttler, c domain.RawCrash) bool {
			return str(c, "ProductName") == "Firefox" && str(c, "ReleaseChannel") == channel
		})
	}

	rules = append(rules,
		Rule{
			Name:       "has_comments",
			Key:        "Comments",
			Condition:  Always,
			Percentage: pct(100),
		},
		Rule{
			Name: "has_email",
			Key:  "Email",
			Condition: func(_ *Throttler, v interface{}) bool {
				s, ok := v.(string)
				return ok && strings.Contains(s, "@")
			},
			Percentage: pct(100),
		},
		Rule{
			Name: "is_thunderbird_seamonkey",
			Key:  "ProductName",
			Condition: func(_ *Throttler, v interface{}) bool {
				s, ok := v.(string)
				return ok && (strings.HasPrefix(s, "Thunderbird") || strings.HasPrefix(s, "SeaMonkey"))
			},
			Percentage: pct(100),
		},
		Rule{
			Name: "is_nightly",
			Key:  "ReleaseChannel",
			Condition: func(_ *Throttler, v interface{}) bool {
				s, ok := v.(string)
				return ok && strings.HasPrefix(s, "nightly")
			},
			Percentage: pct(100),
		},
		Rule{Name: "is_aurora", Key: "*", Condition: firefoxChannel("aurora"), Percentage: pct(100)},
		Rule{Name: "is_beta", Key: "*", Condition: firefoxChannel("beta"), Percentage: pct(100)},
		Rule{Name: "is_esr", Key: "*", Condition: firefoxChannel("esr"), Percentage: pct(100)},
		Rule{Name: "is_firefox_desktop", Key: "*", Condition: firefoxChannel("release"), Percentage: pct(10)},
		Rule{Name: "is_fennec", Key: "ProductName", Condition: Equals("FennecAndroid"), Percentage: pct(100)},
		Rule{
			Name:       "is_version_alpha_beta_special",
			Key:        "Version",
			Condition:  Matches(versionAlphaBetaSpecial),
			Percentage: pct(100),
		},
		Rule{Name: "accept_everything", Key: "*", Condition: Always, Percentage: pct(100)},
	)

	return rules
}
